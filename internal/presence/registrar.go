// Package presence announces the local identity to the gateway and takes it
// back down again.
package presence

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/internal/session"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Registrar publishes presence-join and presence-leave events.
type Registrar struct {
	channels *config.ChannelConfig
	log      *zap.Logger
}

// NewRegistrar creates a registrar for the given channel layout.
func NewRegistrar(channels *config.ChannelConfig, log *zap.Logger) *Registrar {
	return &Registrar{channels: channels, log: log}
}

// Join subscribes handler to the personal queue and then the broadcast
// queue, and only then announces the identity as ONLINE.
// ARCHITECTURAL DISCOVERY: announcing first would let other clients react
// before our personal queue could receive anything
func (r *Registrar) Join(sess *session.Session, handler interfaces.Handler) error {
	conn, err := sess.Conn()
	if err != nil {
		return err
	}
	identity := sess.Identity()
	log := r.log.With(zap.String("session_id", sess.ID()), zap.String("user_id", identity.ID))

	personal := r.channels.Personal(identity.ID)
	if err := conn.Subscribe(personal, handler); err != nil {
		return errors.Wrapf(err, "subscribe personal queue %s", personal)
	}

	broadcast := r.channels.Broadcast()
	if err := conn.Subscribe(broadcast, handler); err != nil {
		return errors.Wrapf(err, "subscribe broadcast queue %s", broadcast)
	}

	if err := r.publish(conn, types.DestinationAddUser, types.JoinEvent(identity)); err != nil {
		return err
	}

	log.Info("presence joined", zap.String("personal", personal), zap.String("broadcast", broadcast))
	return nil
}

// Leave takes the connection out of the session, announces OFFLINE and
// disconnects. It does not wait for the gateway to confirm. The disconnect
// happens even when the announcement fails; a second call returns
// session.ErrReleased and publishes nothing.
func (r *Registrar) Leave(sess *session.Session) error {
	conn, err := sess.Release()
	if err != nil {
		return err
	}
	identity := sess.Identity()
	log := r.log.With(zap.String("session_id", sess.ID()), zap.String("user_id", identity.ID))

	publishErr := r.publish(conn, types.DestinationDisconnectUser, types.LeaveEvent(identity))
	if publishErr != nil {
		log.Warn("presence leave not published", zap.Error(publishErr))
	}

	if err := conn.Disconnect(); err != nil {
		log.Warn("disconnect was not clean", zap.Error(err))
	}

	log.Info("presence left")
	return publishErr
}

func (r *Registrar) publish(conn interfaces.Connection, logical string, event types.PresenceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode presence event")
	}
	destination := r.channels.Destination(logical)
	if err := conn.Publish(destination, body); err != nil {
		return errors.Wrapf(err, "publish %s", destination)
	}
	return nil
}
