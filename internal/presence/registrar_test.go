package presence

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"chatdesk/internal/config"
	"chatdesk/internal/session"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// recordingConn logs every call as "op target".
type recordingConn struct {
	calls        []string
	bodies       map[string][]byte
	failOn       string
	disconnected int
}

func newRecordingConn() *recordingConn {
	return &recordingConn{bodies: make(map[string][]byte)}
}

func (c *recordingConn) Subscribe(channel string, _ interfaces.Handler) error {
	c.calls = append(c.calls, "subscribe "+channel)
	if c.failOn == channel {
		return errors.New("refused")
	}
	return nil
}

func (c *recordingConn) Publish(destination string, payload []byte) error {
	c.calls = append(c.calls, "publish "+destination)
	c.bodies[destination] = payload
	if c.failOn == destination {
		return errors.New("refused")
	}
	return nil
}

func (c *recordingConn) Disconnect() error {
	c.calls = append(c.calls, "disconnect")
	c.disconnected++
	return nil
}

func setup(t *testing.T) (*Registrar, *session.Session, *recordingConn) {
	t.Helper()
	conn := newRecordingConn()
	sess, err := session.New(types.NewIdentity("c1", "Cal", "CUSTOMER"), conn)
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistrar(config.DefaultChannels(config.KindSTOMP), zaptest.NewLogger(t)), sess, conn
}

// FUNCTIONAL VALIDATION TEST: subscriptions precede the join announcement
func TestRegistrar_JoinOrder(t *testing.T) {
	r, sess, conn := setup(t)

	if err := r.Join(sess, func([]byte) {}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	want := []string{
		"subscribe /user/c1/queue/messages",
		"subscribe /user/public",
		"publish /app/user.addUser",
	}
	if strings.Join(conn.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("Expected %v, got %v", want, conn.calls)
	}

	var event map[string]string
	if err := json.Unmarshal(conn.bodies["/app/user.addUser"], &event); err != nil {
		t.Fatal(err)
	}
	if event["id"] != "c1" || event["fullName"] != "Cal" || event["role"] != "CUSTOMER" || event["status"] != "ONLINE" {
		t.Errorf("Unexpected join event %v", event)
	}
}

func TestRegistrar_JoinAbortsOnSubscribeFailure(t *testing.T) {
	r, sess, conn := setup(t)
	conn.failOn = "/user/public"

	if err := r.Join(sess, func([]byte) {}); err == nil {
		t.Fatal("Expected join error")
	}
	for _, call := range conn.calls {
		if strings.HasPrefix(call, "publish") {
			t.Errorf("Nothing may be announced after a failed subscribe, got %v", conn.calls)
		}
	}
}

// FUNCTIONAL VALIDATION TEST: leave announces OFFLINE once, then disconnects
func TestRegistrar_LeaveOnce(t *testing.T) {
	r, sess, conn := setup(t)

	if err := r.Leave(sess); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := r.Leave(sess); err != session.ErrReleased {
		t.Errorf("Second leave should return ErrReleased, got %v", err)
	}

	want := []string{"publish /app/user.disconnectUser", "disconnect"}
	if strings.Join(conn.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("Expected %v, got %v", want, conn.calls)
	}

	var event map[string]interface{}
	if err := json.Unmarshal(conn.bodies["/app/user.disconnectUser"], &event); err != nil {
		t.Fatal(err)
	}
	if event["status"] != "OFFLINE" || event["id"] != "c1" {
		t.Errorf("Unexpected leave event %v", event)
	}
	if _, hasRole := event["role"]; hasRole {
		t.Error("Leave event should not carry a role")
	}
}

func TestRegistrar_LeaveDisconnectsWhenPublishFails(t *testing.T) {
	r, sess, conn := setup(t)
	conn.failOn = "/app/user.disconnectUser"

	if err := r.Leave(sess); err == nil {
		t.Error("Expected publish error to be reported")
	}
	if conn.disconnected != 1 {
		t.Errorf("Expected one disconnect, got %d", conn.disconnected)
	}
}

func TestRegistrar_JoinAfterRelease(t *testing.T) {
	r, sess, _ := setup(t)
	_, _ = sess.Release()

	if err := r.Join(sess, func([]byte) {}); err != session.ErrReleased {
		t.Errorf("Expected ErrReleased, got %v", err)
	}
}
