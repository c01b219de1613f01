package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"whistlechain/core/types"
	"whistlechain/native/bounty"
	"whistlechain/observability"
)

const feedWriteTimeout = 5 * time.Second

// Attributes withheld from feed viewers other than the admin and the parties
// named in the event. Informant and claimant identities stay private.
var redactedAttributes = map[string]map[string]struct{}{
	bounty.EventTypeTipSubmitted:   {"submitter": {}, "evidenceReference": {}},
	bounty.EventTypeClaimSubmitted: {"claimant": {}},
	bounty.EventTypeClaimVerified:  {"claimant": {}},
	bounty.EventTypeClaimRejected:  {"claimant": {}},
	bounty.EventTypeBountyClosed:   {"recipient": {}},
}

// A viewer named in one of these attributes sees the event unredacted.
var partyAttributes = []string{"submitter", "claimant", "recipient", "creator"}

type feedFilter struct {
	bountyID string
	types    []string
}

func parseFeedFilter(r *http.Request) (feedFilter, error) {
	query := r.URL.Query()
	var filter feedFilter
	if raw := strings.TrimSpace(query.Get("bounty")); raw != "" {
		id, err := bounty.ParseID(raw)
		if err != nil {
			return filter, err
		}
		filter.bountyID = id.Hex()
	}
	for _, t := range strings.Split(query.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.types = append(filter.types, t)
		}
	}
	return filter, nil
}

// matches reports whether evt passes the filter. Type entries match exactly
// or as a dotted prefix, so "bounty.claim" selects every claim event.
func (f feedFilter) matches(evt *types.Event) bool {
	if f.bountyID != "" {
		ref := evt.Attributes["bountyId"]
		if ref == "" {
			ref = evt.Attributes["id"]
		}
		if ref != f.bountyID {
			return false
		}
	}
	if len(f.types) == 0 {
		return true
	}
	for _, t := range f.types {
		if evt.Type == t || strings.HasPrefix(evt.Type, t+".") {
			return true
		}
	}
	return false
}

func redact(evt *types.Event, viewer bounty.Identity) *types.Event {
	fields, ok := redactedAttributes[evt.Type]
	if !ok {
		return evt
	}
	for _, key := range partyAttributes {
		if v := evt.Attributes[key]; v != "" && v == viewer.String() {
			return evt
		}
	}
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		if _, hidden := fields[k]; !hidden {
			attrs[k] = v
		}
	}
	return &types.Event{Type: evt.Type, Attributes: attrs}
}

// streamFeed upgrades to a websocket and relays committed lifecycle events.
// Slow readers lose events rather than stall the engine.
func (h *api) streamFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	filter, err := parseFeedFilter(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	sub := h.feed.Subscribe(h.feedBuffer)
	metrics := observability.Bounty()
	metrics.FeedConnected(1)
	defer func() {
		sub.Close()
		metrics.FeedConnected(-1)
		metrics.RecordFeedDrops(sub.Dropped())
	}()
	admin := h.engine.Guard().IsAdmin(caller)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, open := <-sub.C():
			if !open {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if !filter.matches(evt) {
				continue
			}
			if !admin {
				evt = redact(evt, caller)
			}
			if err := writeFeedEvent(ctx, conn, evt); err != nil {
				h.logger.Debug("feed write failed", "caller", caller.String(), "error", err)
				return
			}
		}
	}
}

func writeFeedEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, evt)
}
