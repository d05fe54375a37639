package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// SLIP framing bytes, used for OSC 1.1 over TCP.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// Defaults matching the usual console setup (tx 9000, rx 8000, Eos TCP 3032).
const (
	DefaultIPAddress = "127.0.0.1"
	DefaultUDPTxPort = 9000
	DefaultUDPRxPort = 8000
	DefaultTCPPort   = 3032
)

// MessageHandler receives decoded incoming messages on the receive goroutine.
type MessageHandler func(*Message)

// NetworkManager owns the OSC sockets. Sends are deduplicated per address
// unless forced, dropped while the transport is disabled or TCP is
// disconnected, and mirrored into a bounded diagnostics log. Exactly one
// NetworkManager exists per engine; triggers and the BPM controller hold a
// non-owning reference.
type NetworkManager struct {
	mu sync.Mutex

	ipAddress string
	udpTxPort int
	udpRxPort int
	tcpPort   int

	useTCP  bool
	osc11   bool
	enabled bool

	udpTx        *net.UDPConn
	udpRx        net.PacketConn
	tcpConn      net.Conn
	tcpConnected bool

	lastSent map[string]string

	msgLog      []LogEntry
	logIncoming bool
	logOutgoing bool

	handler       MessageHandler
	connectedFunc func()
	logger        *log.Logger

	rxStop chan struct{}
	rxWG   sync.WaitGroup
}

// NewNetworkManager creates a disabled manager with console defaults.
func NewNetworkManager(logger *log.Logger) *NetworkManager {
	if logger == nil {
		logger = log.Default()
	}
	return &NetworkManager{
		ipAddress:   DefaultIPAddress,
		udpTxPort:   DefaultUDPTxPort,
		udpRxPort:   DefaultUDPRxPort,
		tcpPort:     DefaultTCPPort,
		lastSent:    make(map[string]string),
		logIncoming: true,
		logOutgoing: true,
		logger:      logger,
	}
}

// SetMessageHandler registers the callback for decoded incoming messages.
func (n *NetworkManager) SetMessageHandler(h MessageHandler) {
	n.mu.Lock()
	n.handler = h
	n.mu.Unlock()
}

// SetConnectedFunc registers a callback invoked after the TCP link comes up.
// The console just (re)joined, so the callback typically resends state that
// deduplication would otherwise keep suppressing.
func (n *NetworkManager) SetConnectedFunc(f func()) {
	n.mu.Lock()
	n.connectedFunc = f
	n.mu.Unlock()
}

// SetIPAddress sets the remote address and reconnects if enabled.
func (n *NetworkManager) SetIPAddress(addr string) {
	n.mu.Lock()
	changed := n.ipAddress != addr
	n.ipAddress = addr
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// IPAddress returns the configured remote address.
func (n *NetworkManager) IPAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ipAddress
}

// SetUDPTxPort sets the UDP transmit port.
func (n *NetworkManager) SetUDPTxPort(port int) {
	n.mu.Lock()
	changed := n.udpTxPort != port
	n.udpTxPort = port
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// SetUDPRxPort sets the UDP receive port.
func (n *NetworkManager) SetUDPRxPort(port int) {
	n.mu.Lock()
	changed := n.udpRxPort != port
	n.udpRxPort = port
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// SetTCPPort sets the TCP port.
func (n *NetworkManager) SetTCPPort(port int) {
	n.mu.Lock()
	changed := n.tcpPort != port
	n.tcpPort = port
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// SetUseTCP switches between UDP and TCP transport.
func (n *NetworkManager) SetUseTCP(use bool) {
	n.mu.Lock()
	changed := n.useTCP != use
	n.useTCP = use
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// UseTCP reports whether TCP transport is selected.
func (n *NetworkManager) UseTCP() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.useTCP
}

// SetOSC11 switches between OSC 1.0 (length-prefix TCP framing) and OSC 1.1
// (SLIP framing, text command shorthand on receive).
func (n *NetworkManager) SetOSC11(use bool) {
	n.mu.Lock()
	n.osc11 = use
	n.mu.Unlock()
}

// OSC11 reports whether OSC 1.1 mode is active.
func (n *NetworkManager) OSC11() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.osc11
}

// SetEnabled gates the whole transport. While disabled no packets are sent or
// processed; the rest of the pipeline keeps running.
func (n *NetworkManager) SetEnabled(enabled bool) {
	n.mu.Lock()
	changed := n.enabled != enabled
	n.enabled = enabled
	n.mu.Unlock()
	if changed {
		n.reconnect()
	}
}

// Enabled reports whether the transport gate is open.
func (n *NetworkManager) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// IsConnected reports TCP connection state. It is always true for UDP while
// enabled, since UDP has no connection concept.
func (n *NetworkManager) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enabled {
		return false
	}
	if !n.useTCP {
		return true
	}
	return n.tcpConnected
}

// reconnect tears down and, when enabled, rebuilds the sockets for the
// current settings.
func (n *NetworkManager) reconnect() {
	n.teardown()

	n.mu.Lock()
	enabled := n.enabled
	useTCP := n.useTCP
	ip := n.ipAddress
	txPort := n.udpTxPort
	rxPort := n.udpRxPort
	tcpPort := n.tcpPort
	n.mu.Unlock()

	if !enabled {
		return
	}

	stop := make(chan struct{})
	n.mu.Lock()
	n.rxStop = stop
	n.mu.Unlock()

	if useTCP {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, fmt.Sprint(tcpPort)), 2*time.Second)
		if err != nil {
			n.logger.Printf("osc: tcp connect to %s:%d failed: %v", ip, tcpPort, err)
		} else {
			n.mu.Lock()
			n.tcpConn = conn
			n.tcpConnected = true
			// A fresh peer has no previous values; dedup state from the
			// old connection must not suppress the first sends.
			n.lastSent = make(map[string]string)
			cb := n.connectedFunc
			n.mu.Unlock()
			n.rxWG.Add(1)
			go n.tcpReceiveLoop(conn, stop)
			if cb != nil {
				cb()
			}
		}
		return
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, fmt.Sprint(txPort)))
	if err != nil {
		n.logger.Printf("osc: resolve %s:%d: %v", ip, txPort, err)
		return
	}
	tx, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		n.logger.Printf("osc: udp dial: %v", err)
		return
	}
	n.mu.Lock()
	n.udpTx = tx
	n.mu.Unlock()

	rx, err := net.ListenPacket("udp", fmt.Sprintf(":%d", rxPort))
	if err != nil {
		n.logger.Printf("osc: udp listen on :%d: %v", rxPort, err)
		return
	}
	n.mu.Lock()
	n.udpRx = rx
	n.mu.Unlock()
	n.rxWG.Add(1)
	go n.udpReceiveLoop(rx, stop)
}

func (n *NetworkManager) teardown() {
	n.mu.Lock()
	if n.rxStop != nil {
		close(n.rxStop)
		n.rxStop = nil
	}
	if n.udpTx != nil {
		_ = n.udpTx.Close()
		n.udpTx = nil
	}
	if n.udpRx != nil {
		_ = n.udpRx.Close()
		n.udpRx = nil
	}
	if n.tcpConn != nil {
		_ = n.tcpConn.Close()
		n.tcpConn = nil
	}
	n.tcpConnected = false
	n.mu.Unlock()
	n.rxWG.Wait()
}

// EnsureConnection retries the TCP connection when it has dropped. Called
// from the engine status tick.
func (n *NetworkManager) EnsureConnection() {
	n.mu.Lock()
	need := n.enabled && n.useTCP && !n.tcpConnected
	n.mu.Unlock()
	if need {
		n.reconnect()
	}
}

// Close shuts down all sockets and receive goroutines.
func (n *NetworkManager) Close() {
	n.teardown()
}

// Send encodes and transmits msg. Unless forced, a message identical to the
// previous one sent on the same address is suppressed. Sends are silently
// dropped while disabled or while TCP is disconnected.
func (n *NetworkManager) Send(msg *Message, forced bool) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}

	n.mu.Lock()
	if !n.enabled {
		n.mu.Unlock()
		return nil
	}
	fingerprint := msg.String()
	if !forced && n.lastSent[msg.Address] == fingerprint {
		n.mu.Unlock()
		return nil
	}

	useTCP := n.useTCP
	osc11 := n.osc11
	tcpConn := n.tcpConn
	tcpConnected := n.tcpConnected
	udpTx := n.udpTx
	if (useTCP && (!tcpConnected || tcpConn == nil)) || (!useTCP && udpTx == nil) {
		// Dropped, not sent: the dedup state stays untouched so the value
		// still goes out once the transport is back.
		n.mu.Unlock()
		return nil
	}
	n.lastSent[msg.Address] = fingerprint
	if n.logOutgoing {
		n.appendLog(LogOut, fingerprint)
	}
	n.mu.Unlock()

	if useTCP {
		framed := frameTCP(data, osc11)
		if _, err := tcpConn.Write(framed); err != nil {
			n.logger.Printf("osc: tcp write: %v", err)
			n.markDisconnected(tcpConn)
		}
		return nil
	}
	// Transient OS-level UDP errors are fire-and-forget.
	_, _ = udpTx.Write(data)
	return nil
}

// SendCommand sends a "path=value" text command, parsed into path plus a
// single argument.
func (n *NetworkManager) SendCommand(cmd string, forced bool) error {
	msg, err := ParseTextCommand(cmd)
	if err != nil {
		return err
	}
	return n.Send(msg, forced)
}

// SendValue sends path with a single argument, numeric when it parses as a
// number.
func (n *NetworkManager) SendValue(path, argument string, forced bool) error {
	if argument == "" {
		return n.SendCommand(path, forced)
	}
	return n.SendCommand(path+"="+argument, forced)
}

func (n *NetworkManager) markDisconnected(conn net.Conn) {
	n.mu.Lock()
	if n.tcpConn == conn {
		n.tcpConnected = false
	}
	n.mu.Unlock()
}

func (n *NetworkManager) udpReceiveLoop(conn net.PacketConn, stop chan struct{}) {
	defer n.rxWG.Done()
	buf := make([]byte, MaxPacketSize)
	for {
		nr, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-stop:
			default:
				n.logger.Printf("osc: udp read: %v", err)
			}
			return
		}
		data := make([]byte, nr)
		copy(data, buf[:nr])
		n.dispatch(data)
	}
}

func (n *NetworkManager) tcpReceiveLoop(conn net.Conn, stop chan struct{}) {
	defer n.rxWG.Done()
	defer n.markDisconnected(conn)

	n.mu.Lock()
	osc11 := n.osc11
	n.mu.Unlock()

	var err error
	if osc11 {
		err = n.readSLIP(conn)
	} else {
		err = n.readLengthPrefixed(conn)
	}
	if err != nil && err != io.EOF {
		select {
		case <-stop:
		default:
			n.logger.Printf("osc: tcp read: %v", err)
		}
	}
}

func (n *NetworkManager) readLengthPrefixed(conn net.Conn) error {
	var sizeBuf [bit32Size]byte
	for {
		if _, err := io.ReadFull(conn, sizeBuf[:]); err != nil {
			return err
		}
		size := int(int32(binary.BigEndian.Uint32(sizeBuf[:])))
		if size <= 0 || size > MaxPacketSize {
			return fmt.Errorf("bad tcp packet length %d", size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(conn, data); err != nil {
			return err
		}
		n.dispatch(data)
	}
}

func (n *NetworkManager) readSLIP(conn net.Conn) error {
	var (
		packet  bytes.Buffer
		escaped bool
		buf     [1024]byte
	)
	for {
		nr, err := conn.Read(buf[:])
		if err != nil {
			return err
		}
		for _, b := range buf[:nr] {
			switch {
			case escaped:
				escaped = false
				switch b {
				case slipEscEnd:
					packet.WriteByte(slipEnd)
				case slipEscEsc:
					packet.WriteByte(slipEsc)
				default:
					packet.WriteByte(b)
				}
			case b == slipEsc:
				escaped = true
			case b == slipEnd:
				if packet.Len() > 0 {
					data := make([]byte, packet.Len())
					copy(data, packet.Bytes())
					n.dispatch(data)
					packet.Reset()
				}
			default:
				packet.WriteByte(b)
			}
		}
	}
}

// dispatch decodes a received packet and hands each message to the handler.
// Malformed packets are logged and dropped; nothing propagates out of the
// receive path.
func (n *NetworkManager) dispatch(data []byte) {
	n.mu.Lock()
	enabled := n.enabled
	osc11 := n.osc11
	handler := n.handler
	n.mu.Unlock()

	if !enabled {
		return
	}

	msgs, err := ParsePacket(data, osc11)
	if err != nil {
		n.logger.Printf("osc: discarding malformed packet: %v", err)
		return
	}
	for _, msg := range msgs {
		n.mu.Lock()
		if n.logIncoming {
			n.appendLog(LogIn, msg.String())
		}
		n.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// frameTCP wraps an encoded packet for stream transport: int32 length prefix
// for OSC 1.0, SLIP double-END framing for OSC 1.1.
func frameTCP(data []byte, osc11 bool) []byte {
	if !osc11 {
		framed := make([]byte, bit32Size+len(data))
		binary.BigEndian.PutUint32(framed[:bit32Size], uint32(len(data)))
		copy(framed[bit32Size:], data)
		return framed
	}

	framed := make([]byte, 0, len(data)+2)
	framed = append(framed, slipEnd)
	for _, b := range data {
		switch b {
		case slipEnd:
			framed = append(framed, slipEsc, slipEscEnd)
		case slipEsc:
			framed = append(framed, slipEsc, slipEscEsc)
		default:
			framed = append(framed, b)
		}
	}
	return append(framed, slipEnd)
}
