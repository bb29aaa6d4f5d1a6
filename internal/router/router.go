// Package router classifies inbound payloads and sends outbound chat
// messages for one session.
package router

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/internal/conversation"
	"chatdesk/internal/directory"
	"chatdesk/internal/session"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Router routes inbound payloads to the conversation or the roster and
// publishes outbound messages.
// ARCHITECTURAL DISCOVERY: runs only on the client event loop, it shares the
// session, roster and buffer with the loop without locks
type Router struct {
	sess     *session.Session
	roster   *directory.Roster
	buffer   *conversation.Buffer
	view     interfaces.View
	channels *config.ChannelConfig
	refresh  func() uint64
	limiter  *RateLimiter
	log      *zap.Logger

	// pending maps senders not yet on the roster to the refresh that will
	// list them if they are visible at all.
	pending map[string]uint64

	now func() types.Timestamp
}

// Deps are the collaborators a Router works with.
type Deps struct {
	Session  *session.Session
	Roster   *directory.Roster
	Buffer   *conversation.Buffer
	View     interfaces.View
	Channels *config.ChannelConfig
	// Refresh requests a directory refresh and returns the sequence number
	// of the fetch whose result reflects the request. It must not block.
	Refresh func() uint64
	Limiter *RateLimiter
	Log     *zap.Logger
}

// NewRouter creates a router.
func NewRouter(d Deps) *Router {
	refresh := d.Refresh
	if refresh == nil {
		refresh = func() uint64 { return 0 }
	}
	return &Router{
		sess:     d.Session,
		roster:   d.Roster,
		buffer:   d.Buffer,
		view:     d.View,
		channels: d.Channels,
		refresh:  refresh,
		limiter:  d.Limiter,
		pending:  make(map[string]uint64),
		log:      d.Log.With(zap.String("session_id", d.Session.ID())),
		now:      types.Now,
	}
}

// HandleInbound processes one payload from either subscribed channel.
//
// A directory refresh is requested before anything else. Presence notices
// stop there. A chat message from the active counterpart is appended to the
// conversation; one from any other counterpart on the roster flags it as
// unread. A sender the roster does not list yet is held until the refresh
// requested here has been applied (see DirectoryApplied). Payloads that
// cannot be decoded are dropped.
func (r *Router) HandleInbound(payload []byte) {
	seq := r.refresh()

	inbound, err := types.DecodeInbound(payload)
	if err != nil {
		r.log.Warn("dropping inbound payload", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}

	if inbound.Kind == types.InboundPresence {
		r.log.Debug("presence notice",
			zap.Stringer("kind", inbound.Kind),
			zap.String("user_id", inbound.Presence.ID),
			zap.String("status", string(inbound.Presence.Status)))
		return
	}

	msg := inbound.Message
	if r.sess.IsActive(msg.SenderID) {
		r.view.ConversationChanged(r.buffer.Append(msg.SenderID, msg.Content, msg.Timestamp, r.sess.Identity().ID))
		return
	}

	if _, ok := r.roster.Find(msg.SenderID); !ok {
		r.log.Debug("sender not on the roster yet, awaiting refresh",
			zap.String("sender_id", msg.SenderID), zap.Uint64("refresh_seq", seq))
		r.pending[msg.SenderID] = seq
		return
	}

	if r.sess.MarkUnread(msg.SenderID) {
		r.view.DirectoryChanged(r.roster.Entries())
	}
}

// DirectoryApplied settles senders held back by HandleInbound once the
// roster reflects refresh seq. Senders now listed are flagged unread, the
// rest are dropped. It reports whether any flag was set; the caller
// publishes the roster.
func (r *Router) DirectoryApplied(seq uint64) bool {
	changed := false
	for id, awaiting := range r.pending {
		if awaiting > seq {
			continue
		}
		delete(r.pending, id)

		if _, ok := r.roster.Find(id); !ok {
			r.log.Debug("message from sender outside the roster", zap.String("sender_id", id))
			continue
		}
		if r.sess.MarkUnread(id) {
			changed = true
		}
	}
	return changed
}

// Send publishes text to the active counterpart and echoes it locally.
// It returns true when the message went out and the caller should clear its
// input; blank text or no selection is a silent no-op.
func (r *Router) Send(text string) bool {
	content := strings.TrimSpace(text)
	if content == "" {
		return false
	}

	counterpart, ok := r.sess.Selection()
	if !ok {
		r.log.Debug("send ignored", zap.Error(ErrNoCounterpart))
		return false
	}

	conn, err := r.sess.Conn()
	if err != nil {
		r.log.Debug("send ignored", zap.Error(err))
		return false
	}

	if !r.limiter.Allow() {
		r.log.Warn("send dropped", zap.Error(ErrRateLimitExceeded), zap.String("counterpart", counterpart))
		return false
	}

	self := r.sess.Identity().ID
	msg := types.ChatMessage{
		SenderID:    self,
		RecipientID: counterpart,
		Content:     content,
		Timestamp:   r.now(),
	}

	if err := r.publish(conn, msg); err != nil {
		r.log.Error("send failed", zap.Error(err), zap.String("counterpart", counterpart))
		return false
	}

	// Local echo: the gateway does not send our own messages back.
	r.view.ConversationChanged(r.buffer.Append(self, content, msg.Timestamp, self))
	return true
}

func (r *Router) publish(conn interfaces.Connection, msg types.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode chat message")
	}
	destination := r.channels.Destination(types.DestinationChat)
	return errors.Wrapf(conn.Publish(destination, body), "publish %s", destination)
}
