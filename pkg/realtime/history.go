package realtime

import (
	"strings"

	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
)

// NodeHandle is an opaque reference to one rendered transcript node.
type NodeHandle interface{}

// Renderer is the display capability the synchronizer draws through. All
// rendering is an append to the visible transcript in call order.
type Renderer interface {
	RenderText(role string, text string) NodeHandle
	RenderImage(role string, url string, caption string) NodeHandle
	UpdateText(node NodeHandle, text string)
}

// Synchronizer reconciles the rendered transcript against the server's
// canonical history. It is strictly additive: full snapshots and single-item
// deltas only ever create new nodes or update existing ones in place, keyed
// by item identifier, so replaying the same snapshot is a no-op.
//
// All methods must be called from the session's dispatch goroutine.
type Synchronizer struct {
	logger   *zap.Logger
	renderer Renderer
	nodes    map[string]NodeHandle
	seen     map[string]struct{}
}

// NewSynchronizer creates an empty synchronizer over renderer.
func NewSynchronizer(renderer Renderer, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		logger:   logger,
		renderer: renderer,
		nodes:    make(map[string]NodeHandle),
		seen:     make(map[string]struct{}),
	}
}

// ApplySnapshot processes a full-history snapshot: renders every entry not
// yet seen, then refreshes the text of the most recent message entry in
// place so a streaming assistant turn grows without re-creating its node.
func (s *Synchronizer) ApplySnapshot(items []protocol.HistoryItem) {
	for _, item := range items {
		if item.ItemID == "" {
			s.logger.Debug("history item without identifier skipped")
			continue
		}
		if _, ok := s.seen[item.ItemID]; ok {
			continue
		}
		s.renderItem(item)
	}

	for i := len(items) - 1; i >= 0; i-- {
		if !items[i].IsMessage() {
			continue
		}
		if node, ok := s.nodes[items[i].ItemID]; ok {
			s.renderer.UpdateText(node, itemCaption(items[i]))
		}
		break
	}
}

// ApplyDelta renders one newly added item directly.
func (s *Synchronizer) ApplyDelta(item protocol.HistoryItem) {
	if item.ItemID == "" {
		s.logger.Debug("history delta without identifier skipped")
		return
	}
	s.renderItem(item)
}

// SeenCount returns the cardinality of the seen-identifier set.
func (s *Synchronizer) SeenCount() int {
	return len(s.seen)
}

// Node returns the rendered node registered for id, if any.
func (s *Synchronizer) Node(id string) (NodeHandle, bool) {
	node, ok := s.nodes[id]
	return node, ok
}

// renderItem draws one item: one node per image URL (all sharing the item's
// caption), or a single text node when there are no images. The last node
// rendered is registered under the item identifier.
func (s *Synchronizer) renderItem(item protocol.HistoryItem) {
	caption := itemCaption(item)
	urls := itemImageURLs(item)

	var last NodeHandle
	switch {
	case len(urls) > 0:
		for _, url := range urls {
			last = s.renderer.RenderImage(item.Role, url, caption)
		}
	case caption != "":
		last = s.renderer.RenderText(item.Role, caption)
	}

	if last != nil {
		s.nodes[item.ItemID] = last
	}
	s.seen[item.ItemID] = struct{}{}
}

// itemCaption concatenates all textual and transcript content in order.
func itemCaption(item protocol.HistoryItem) string {
	var b strings.Builder
	for _, part := range item.Content {
		switch part.Type {
		case protocol.PartText, protocol.PartInputText:
			b.WriteString(part.Text)
		case protocol.PartAudio, protocol.PartInputAudio:
			b.WriteString(part.Transcript)
		}
	}
	return b.String()
}

func itemImageURLs(item protocol.HistoryItem) []string {
	var urls []string
	for _, part := range item.Content {
		if part.Type == protocol.PartInputImage && part.ImageURL != "" {
			urls = append(urls, part.ImageURL)
		}
	}
	return urls
}
