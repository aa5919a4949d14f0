package printer

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
)

const (
	DefaultTCPPort = "9100"
	tcpIOTimeout   = 5 * time.Second
	tcpReadTimeout = 2 * time.Second
)

// tcpLink is a raw socket to a network printer (JetDirect style)
type tcpLink struct {
	conn net.Conn
	addr string
}

func openTCP(ctx context.Context, addr string) (*tcpLink, error) {
	if addr == "" {
		return nil, errors.NotValidf("empty printer address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultTCPPort)
	}
	d := net.Dialer{Timeout: tcpIOTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", addr)
	}
	return &tcpLink{conn: conn, addr: addr}, nil
}

func (l *tcpLink) Write(b []byte) (int, error) {
	l.conn.SetWriteDeadline(time.Now().Add(tcpIOTimeout))
	return l.conn.Write(b)
}

// Read returns 0, nil when the printer stays silent, like a serial port
func (l *tcpLink) Read(b []byte) (int, error) {
	l.conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
	n, err := l.conn.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (l *tcpLink) Close() error   { return errors.Trace(l.conn.Close()) }
func (l *tcpLink) String() string { return "tcp:" + l.addr }
