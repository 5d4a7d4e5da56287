package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domrelay/api/schemas"
	"go.uber.org/zap/zaptest"
)

func readyMessage(nonce string) schemas.BridgeMessage {
	return schemas.BridgeMessage{
		Version: schemas.ProtocolVersion, Kind: schemas.KindReady,
		Sender: schemas.SenderPage, Nonce: nonce,
	}
}

func TestSession_RenewTracksNewDocument(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := NewBus(logger, 32)
	defer bus.Close()

	s := NewSession(bus.Endpoint(testOrigin), Options{Origin: testOrigin, RequestTimeout: time.Second}, logger)
	defer s.Close()
	require.NotEmpty(t, s.Nonce())

	var readies atomic.Int32
	s.OnReady(func() { readies.Add(1) })

	page := bus.Endpoint(testOrigin)
	require.NoError(t, page.Post(context.Background(), readyMessage(s.Nonce())))
	require.NoError(t, s.WaitReady(context.Background()))
	first := s.Current()

	// A navigation: the new document is not ready until it says so.
	s.Renew()
	assert.NotSame(t, first, s.Current())
	select {
	case <-s.Ready():
		t.Fatal("renewed session must wait for the new document")
	default:
	}

	require.NoError(t, page.Post(context.Background(), readyMessage(s.Nonce())))
	require.NoError(t, s.WaitReady(context.Background()))
	assert.Eventually(t, func() bool { return readies.Load() == 2 }, time.Second, 5*time.Millisecond)

	// The old bridge is shut down in the background.
	assert.Eventually(t, func() bool {
		_, err := first.Send(context.Background(), "x", true)
		return err == ErrBridgeClosed
	}, time.Second, 5*time.Millisecond)
}

func TestSession_SendUsesCurrentBridge(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := NewBus(logger, 32)
	defer bus.Close()

	s := NewSession(bus.Endpoint(testOrigin), Options{Origin: testOrigin, Nonce: testNonce, RequestTimeout: time.Second}, logger)
	listener := NewListener(bus.Endpoint(testOrigin), echoEvaluator, ListenerOptions{Origin: testOrigin, Nonce: testNonce}, logger)
	listener.Start()
	defer listener.Close()

	s.Renew()
	res, err := s.Send(context.Background(), "after renew", true)
	require.NoError(t, err)
	assert.Equal(t, `"after renew"`, string(res.Value))

	require.NoError(t, s.Close())
	s.Renew()
	_, err = s.Send(context.Background(), "closed", true)
	assert.ErrorIs(t, err, ErrBridgeClosed)
}
