package thinblock

import (
	"github.com/shruggr/thinrelay/messages"
)

// announceHandle keeps a peer in high-bandwidth announcement mode until it
// is evicted from the announcer set
type announceHandle struct {
	peer   PeerID
	sender Sender
	mg     *Manager
	closed bool
}

func (h *announceHandle) enable() error {
	return h.sender.Send(h.peer, &messages.SendCmpct{Announce: true, Version: messages.CompactVersion})
}

func (h *announceHandle) release() {
	if h.closed {
		return
	}
	h.closed = true
	h.mg.logger.Debug("peer no longer announcing blocks", "peer", h.peer)
	if err := h.sender.Send(h.peer, &messages.SendCmpct{Announce: false, Version: messages.CompactVersion}); err != nil {
		h.mg.logger.Warn("failed to disable block announcements", "peer", h.peer, "error", err)
	}
}

// RequestBlockAnnouncements asks w's peer to announce new blocks. Peers are
// kept most recently used first; the oldest is released once the set is
// over capacity. Protocols without announcements are ignored.
func (mg *Manager) RequestBlockAnnouncements(w *Worker, sender Sender) error {
	if !w.Protocol().SupportsAnnouncements() {
		return nil
	}
	peer := w.Peer()
	if _, ok := mg.announcers.Get(peer); ok {
		return nil
	}

	h := &announceHandle{peer: peer, sender: sender, mg: mg}
	if err := h.enable(); err != nil {
		return err
	}
	mg.announcers.Add(peer, h)
	mg.logger.Debug("requested block announcements", "peer", peer, "announcers", mg.announcers.Len())
	return nil
}

// Announcers returns the announcing peers, oldest first
func (mg *Manager) Announcers() []PeerID {
	return mg.announcers.Keys()
}

func (mg *Manager) forgetAnnouncer(peer PeerID) {
	if h, ok := mg.announcers.Peek(peer); ok {
		h.closed = true
		mg.announcers.Remove(peer)
	}
}
