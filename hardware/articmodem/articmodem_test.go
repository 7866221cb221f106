package articmodem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.bug.st/serial"

	"github.com/bramburn/argos-tracker/internal/model"
)

type fakePort struct {
	writes [][]byte
	closed bool
}

func (p *fakePort) Read(buf []byte) (int, error) { return 0, nil }
func (p *fakePort) Write(buf []byte) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.writes = append(p.writes, cp)
	return len(buf), nil
}
func (p *fakePort) Close() error                        { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newTestDriver() (*SerialDriver, *fakePort) {
	port := &fakePort{}
	d := NewSerialDriver("/dev/ttyFAKE", 9600, nil)
	d.openFunc = func(name string, mode *serial.Mode) (SerialPort, error) {
		return port, nil
	}
	return d, port
}

func TestConnectOpensPort(t *testing.T) {
	d, _ := newTestDriver()
	err := d.Connect(context.Background())
	require.NoError(t, err)
}

func TestConnectTwiceIsNoop(t *testing.T) {
	d, _ := newTestDriver()
	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, d.Connect(context.Background()))
}

func TestConnectCanceledContext(t *testing.T) {
	d := NewSerialDriver("/dev/ttyFAKE", 9600, nil)
	d.openFunc = func(name string, mode *serial.Mode) (SerialPort, error) {
		time.Sleep(200 * time.Millisecond)
		return &fakePort{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := d.Connect(ctx)
	assert.Error(t, err)
}

func TestSendRequiresConnection(t *testing.T) {
	d, _ := newTestDriver()
	err := d.Send(context.Background(), model.ArticModeA2, []byte{0x01}, 8)
	assert.Error(t, err)
}

func TestSendWritesFrameAndCompletes(t *testing.T) {
	d, port := newTestDriver()
	require.NoError(t, d.Connect(context.Background()))

	err := d.Send(context.Background(), model.ArticModeA2, []byte{0xAB, 0xCD}, 16)
	require.NoError(t, err)
	assert.Len(t, port.writes, 1)

	select {
	case evt := <-d.Events():
		assert.Equal(t, EventTxComplete, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("did not observe tx complete event")
	}
}

func TestDisconnectClosesPort(t *testing.T) {
	d, port := newTestDriver()
	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, d.Disconnect())
	assert.True(t, port.closed)
}

func TestOpenErrorIsWrapped(t *testing.T) {
	d := NewSerialDriver("/dev/ttyFAKE", 9600, nil)
	d.openFunc = func(name string, mode *serial.Mode) (SerialPort, error) {
		return nil, errors.New("no such device")
	}
	err := d.Connect(context.Background())
	assert.Error(t, err)
}
