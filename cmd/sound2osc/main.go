package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"

	"github.com/sound2osc/sound2osc/internal/audio"
	"github.com/sound2osc/sound2osc/internal/engine"
	"github.com/sound2osc/sound2osc/internal/web"
)

func main() {
	var (
		deviceName  = flag.String("audio-device", "", "PortAudio input device name (substring match, empty auto-detects)")
		listDevs    = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		oscIP       = flag.String("osc-ip", "", "OSC destination IP (default 127.0.0.1)")
		udpTxPort   = flag.Int("udp-tx-port", 0, "UDP transmit port (default 9000)")
		udpRxPort   = flag.Int("udp-rx-port", 0, "UDP receive port (default 8000)")
		tcpPort     = flag.Int("tcp-port", 0, "TCP port (default 3032)")
		useTCP      = flag.Bool("tcp", false, "Use TCP instead of UDP")
		osc11       = flag.Bool("osc11", false, "Use OSC 1.1 framing (SLIP) and text commands")
		enabled     = flag.Bool("enable-osc", true, "Enable OSC output at startup")
		statePath   = flag.String("state", "", "Path to a JSON state file loaded at startup and saved on exit")
		monitorPort = flag.Int("monitor-port", 0, "Port for the web diagnostics monitor (0 disables)")
		debug       = flag.Bool("debug", false, "Enable verbose logging")
	)

	flag.Parse()

	logger := log.New(os.Stderr, "[sound2osc] ", log.LstdFlags)
	if !*debug {
		logger.SetFlags(0)
	}

	if err := audio.Initialize(); err != nil {
		logger.Fatalf("failed to initialize PortAudio: %v", err)
	}
	defer audio.Terminate()

	if *listDevs {
		devices, err := audio.ListDevices()
		if err != nil {
			logger.Fatalf("list devices: %v", err)
		}
		fmt.Printf("\n=== Audio Input Devices ===\n\n")
		for _, dev := range devices {
			if dev.MaxInput == 0 {
				continue
			}
			markers := ""
			if dev.IsDefaultInput {
				markers += " (default)"
			}
			fmt.Printf("- %s [%s]%s\n    inputs:%d sample:%.0f Hz\n",
				dev.Name, dev.HostAPI, markers, dev.MaxInput, dev.DefaultSampleHz)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := engine.New(engine.Config{
		DeviceName: *deviceName,
		Logger:     logger,
	})

	net := e.Network()
	if *oscIP != "" {
		net.SetIPAddress(*oscIP)
	}
	if *udpTxPort > 0 {
		net.SetUDPTxPort(*udpTxPort)
	}
	if *udpRxPort > 0 {
		net.SetUDPRxPort(*udpRxPort)
	}
	if *tcpPort > 0 {
		net.SetTCPPort(*tcpPort)
	}
	net.SetUseTCP(*useTCP)
	net.SetOSC11(*osc11)
	net.SetEnabled(*enabled)

	if *statePath != "" {
		if err := loadState(e, *statePath); err != nil {
			logger.Printf("state not loaded: %v", err)
		}
	}

	if err := e.Start(); err != nil {
		logger.Fatalf("engine start: %v", err)
	}
	if name := e.ActiveInputName(); name != "" {
		logger.Printf("audio input: %s", name)
	} else {
		logger.Printf("no audio input available, running silent")
	}

	if *monitorPort > 0 {
		monitor := web.NewServer(e, logger)
		defer monitor.Close()
		go func() {
			if err := monitor.Start(*monitorPort); err != nil {
				logger.Printf("web monitor stopped: %v", err)
			}
		}()
	}

	startKeyListener(ctx, cancel, e, logger)
	go statusLine(ctx, e)

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("runtime error: %v", err)
	}

	if *statePath != "" {
		if err := saveState(e, *statePath); err != nil {
			logger.Printf("state not saved: %v", err)
		}
	}
	fmt.Println("\nExiting...")
}

func loadState(e *engine.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	e.FromState(state)
	return nil
}

func saveState(e *engine.Engine, path string) error {
	data, err := json.MarshalIndent(e.ToState(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// startKeyListener handles interactive keys: t taps the tempo, r force
// releases all bands, s toggles low solo, q or Esc quits.
func startKeyListener(ctx context.Context, cancel context.CancelFunc, e *engine.Engine, logger *log.Logger) {
	if err := keyboard.Open(); err != nil {
		logger.Printf("keyboard input disabled: %v", err)
		return
	}

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			switch {
			case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC || char == 'q' || char == 'Q':
				cancel()
				return
			case char == 't' || char == 'T':
				e.Tap()
			case char == 'r' || char == 'R':
				e.ForceRelease()
			case char == 's' || char == 'S':
				e.SetLowSolo(!e.LowSolo())
			}
		}
	}()
}

// statusLine repaints a one-line status on stdout while it is a terminal.
func statusLine(ctx context.Context, e *engine.Engine) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Print("\r\n")
			return
		case <-ticker.C:
			status := e.Status()

			var active []string
			for _, b := range status.Bands {
				if b.Active {
					active = append(active, b.Name)
				}
			}
			stale := ""
			if status.BPMStale {
				stale = "~"
			}
			text := fmt.Sprintf("BPM=%.1f%s  Active=[%s]  Input=%s", status.BPM, stale, strings.Join(active, " "), status.Input)

			width, _, err := term.GetSize(fd)
			if err == nil && width > 0 {
				if len(text) >= width {
					text = text[:width-1]
				} else {
					text += strings.Repeat(" ", width-1-len(text))
				}
			}
			fmt.Print("\r" + text)
		}
	}
}
