package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"slateboard/core/internal/broadcast"
	"slateboard/core/internal/config"
	"slateboard/core/internal/gate"
	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/shape"
	"slateboard/core/internal/snapshot"
	"slateboard/core/internal/util"
)

// Effective is the display-oriented view of a room's permission state
// for one actor.
type Effective struct {
	Level         permission.Level `json:"level"`
	HistoryLocked bool             `json:"historyLocked"`
	IsOwner       bool             `json:"isOwner"`
}

// PermissionChange is delivered to subscribers whenever a room's
// effective permission record changes, from whichever direction the
// change arrived (local transition, broadcast, reconcile).
type PermissionChange struct {
	RoomID               string           `json:"roomId"`
	Level                permission.Level `json:"level"`
	HistoryLocked        bool             `json:"historyLocked"`
	HistoryLockTimestamp *time.Time       `json:"historyLockTimestamp,omitempty"`
}

type watch struct {
	cancelBroadcast func()
	subs            map[int]func(PermissionChange)
	last            PermissionChange
	seeded          bool
}

// Service ties the permission store, transition controller, gate,
// tagger, and broadcaster together behind the surface the surrounding
// UI consumes. One instance per process, passed by reference; tests
// construct isolated instances.
type Service struct {
	cfg     config.Config
	log     *zap.Logger
	perms   *permission.Store
	trans   *permission.Transitions
	gate    *gate.Gate
	tagger  *shape.Tagger
	content shape.ContentStore
	bus     *broadcast.Broadcaster
	snaps   snapshot.Publisher
	source  string

	mu       sync.Mutex
	watches  map[string]*watch
	lastSent map[string]int64
	nextSub  int
}

func New(cfg config.Config, log *zap.Logger, remote permission.Remote, content shape.ContentStore, bus *broadcast.Broadcaster, snaps snapshot.Publisher) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	perms := permission.NewStore(remote, cfg.CacheTTL)
	return &Service{
		cfg:      cfg,
		log:      log,
		perms:    perms,
		trans:    permission.NewTransitions(perms, shape.NewLockPass(content)),
		gate:     gate.New(content),
		tagger:   shape.NewTagger(content),
		content:  content,
		bus:      bus,
		snaps:    snaps,
		source:   util.NewContextTag(),
		watches:  make(map[string]*watch),
		lastSent: make(map[string]int64),
	}
}

// Source is this peer's origin tag, carried on outgoing messages.
func (s *Service) Source() string {
	return s.source
}

// nextTimestamp produces the outgoing message timestamp for a room.
// Strictly monotonic per room, so two transitions landing in the same
// millisecond do not make peers drop the second as a duplicate.
func (s *Service) nextTimestamp(roomID string, at time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := at.UnixMilli()
	if prev := s.lastSent[roomID]; ts <= prev {
		ts = prev + 1
	}
	s.lastSent[roomID] = ts
	return ts
}

// GetEffectivePermission returns the room's level and lock state as
// seen by one actor, for UI display.
func (s *Service) GetEffectivePermission(ctx context.Context, roomID string, actor identity.Actor) Effective {
	rec := s.perms.Get(ctx, roomID, actor)
	return Effective{
		Level:         rec.Level,
		HistoryLocked: rec.HistoryLocked,
		IsOwner:       !actor.IsZero() && actor.ID == rec.OwnerID,
	}
}

// CanMutate is the pre-flight check UI uses to enable or disable
// controls for a single item.
func (s *Service) CanMutate(ctx context.Context, roomID string, actor identity.Actor, itemID string) gate.Decision {
	rec := s.perms.Get(ctx, roomID, actor)
	meta, ok := s.content.Meta(roomID, itemID)
	if !ok {
		meta = shape.Meta{ItemID: itemID, RoomID: roomID, Kind: shape.KindShape}
	}
	return s.gate.Decide(rec, actor, meta)
}

// ChangePermission runs an owner's level transition: persist, then
// broadcast, then the published-flag side effect. Failure to persist
// is surfaced to the caller and advances nothing locally.
func (s *Service) ChangePermission(ctx context.Context, roomID string, actor identity.Actor, change permission.Change) (permission.Record, error) {
	before := s.perms.Get(ctx, roomID, actor)
	if actor.IsZero() || (before.OwnerID != "" && before.OwnerID != actor.ID) {
		return permission.Record{}, fmt.Errorf("change permission for %s: %w", roomID, ErrNotOwner)
	}

	rec, err := s.trans.Apply(ctx, roomID, actor, change)
	if err != nil {
		return permission.Record{}, err
	}

	msg := broadcast.Message{
		RoomID:    roomID,
		Level:     rec.Level,
		Shared:    &rec.Shared,
		Published: &rec.Published,
		Timestamp: s.nextTimestamp(roomID, rec.UpdatedAt),
		Source:    s.source,
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		// The record is already persisted; peers converge on the next
		// reconcile pass even if every transport failed.
		s.log.Warn("permission change broadcast failed",
			zap.String("room", roomID), zap.Error(err))
	}

	s.applySnapshotEdge(ctx, before, rec)
	s.notifyFromRecord(rec)
	return rec, nil
}

// applySnapshotEdge publishes or withdraws the static snapshot when
// the published flag flips. Advisory only; failures are logged.
func (s *Service) applySnapshotEdge(ctx context.Context, before, after permission.Record) {
	if s.snaps == nil || before.Published == after.Published {
		return
	}
	if after.Published {
		snap := snapshot.Snapshot{
			RoomID:  after.RoomID,
			Record:  after,
			Items:   s.content.ListMetas(after.RoomID),
			TakenAt: time.Now(),
		}
		if err := s.snaps.Publish(ctx, snap); err != nil {
			s.log.Warn("snapshot publish failed", zap.String("room", after.RoomID), zap.Error(err))
		}
		return
	}
	if err := s.snaps.Withdraw(ctx, after.RoomID); err != nil {
		s.log.Warn("snapshot withdraw failed", zap.String("room", after.RoomID), zap.Error(err))
	}
}

// RemoveItems deletes a batch through the gate. Denied items are
// dropped and reported; the rest proceed.
func (s *Service) RemoveItems(ctx context.Context, roomID string, actor identity.Actor, itemIDs []string) (gate.BatchResult, error) {
	rec := s.perms.Get(ctx, roomID, actor)
	return s.gate.RemoveItems(ctx, rec, actor, roomID, itemIDs)
}

// UpdateItems applies a batch of patches through the gate, stamping
// creator metadata on first touch of any unstamped item that went
// through.
func (s *Service) UpdateItems(ctx context.Context, roomID string, actor identity.Actor, patches []shape.ItemPatch) (gate.BatchResult, error) {
	rec := s.perms.Get(ctx, roomID, actor)
	result, err := s.gate.UpdateItems(ctx, rec, actor, roomID, patches)
	if err != nil {
		return result, err
	}
	level := rec.Level
	if !actor.IsZero() && actor.ID == rec.OwnerID {
		level = permission.LevelEditor
	}
	for _, itemID := range result.Applied {
		s.tagger.Stamp(roomID, actor, level, itemID, shape.KindShape)
	}
	return result, nil
}

// TagItem is the creation hook: stamps a brand-new item with its
// creator and creation time.
func (s *Service) TagItem(ctx context.Context, roomID string, actor identity.Actor, itemID string, kind shape.Kind) bool {
	rec := s.perms.Get(ctx, roomID, actor)
	level := rec.Level
	if !actor.IsZero() && actor.ID == rec.OwnerID {
		level = permission.LevelEditor
	}
	return s.tagger.Stamp(roomID, actor, level, itemID, kind)
}

func (s *Service) LockItem(ctx context.Context, roomID string, actor identity.Actor, itemID string) error {
	rec := s.perms.Get(ctx, roomID, actor)
	return s.gate.LockItem(rec, actor, roomID, itemID)
}

func (s *Service) UnlockItem(ctx context.Context, roomID string, actor identity.Actor, itemID string) error {
	rec := s.perms.Get(ctx, roomID, actor)
	return s.gate.UnlockItem(rec, actor, roomID, itemID)
}

// Subscribe delivers a PermissionChange whenever the room's effective
// record changes. The first subscriber wires the room into the
// broadcaster; the returned cancel deregisters.
func (s *Service) Subscribe(roomID string, fn func(PermissionChange)) (cancel func()) {
	s.mu.Lock()
	w, ok := s.watches[roomID]
	if !ok {
		w = &watch{subs: make(map[int]func(PermissionChange))}
		w.cancelBroadcast = s.bus.Subscribe(roomID, func(msg broadcast.Message) {
			s.onBroadcast(msg)
		})
		s.watches[roomID] = w
	}
	id := s.nextSub
	s.nextSub++
	w.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		w, ok := s.watches[roomID]
		if !ok {
			return
		}
		delete(w.subs, id)
		if len(w.subs) == 0 {
			w.cancelBroadcast()
			delete(s.watches, roomID)
		}
	}
}

// onBroadcast reacts to a permission change from another context:
// refresh the cached record from the remote source of truth, then
// re-notify anything watching.
func (s *Service) onBroadcast(msg broadcast.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
	defer cancel()

	rec := s.perms.Refresh(ctx, msg.RoomID, identity.Actor{})
	if rec.Level != msg.Level {
		// The remote already moved past this message; its state wins.
		s.log.Debug("broadcast superseded by remote record",
			zap.String("room", msg.RoomID),
			zap.String("message_level", string(msg.Level)),
			zap.String("record_level", string(rec.Level)))
	}
	s.notifyFromRecord(rec)
}

// StartReconciler periodically re-fetches the authoritative record for
// every watched room, bounding how long peers can stay diverged after
// lost or reordered broadcasts. It returns after ctx is done.
func (s *Service) StartReconciler(ctx context.Context) {
	interval := s.cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		roomIDs := make([]string, 0, len(s.watches))
		for roomID := range s.watches {
			roomIDs = append(roomIDs, roomID)
		}
		s.mu.Unlock()

		for _, roomID := range roomIDs {
			fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
			rec := s.perms.Refresh(fetchCtx, roomID, identity.Actor{})
			cancel()
			s.notifyFromRecord(rec)
		}
	}
}

// notifyFromRecord fans a record out to a room's subscribers, but only
// when it differs from what they last saw. This is what makes the
// whole delivery path idempotent end to end.
func (s *Service) notifyFromRecord(rec permission.Record) {
	change := PermissionChange{
		RoomID:               rec.RoomID,
		Level:                rec.Level,
		HistoryLocked:        rec.HistoryLocked,
		HistoryLockTimestamp: rec.HistoryLockTimestamp,
	}

	s.mu.Lock()
	w, ok := s.watches[rec.RoomID]
	if !ok || (w.seeded && sameChange(w.last, change)) {
		s.mu.Unlock()
		return
	}
	w.last = change
	w.seeded = true
	subs := make([]func(PermissionChange), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

func sameChange(a, b PermissionChange) bool {
	if a.Level != b.Level || a.HistoryLocked != b.HistoryLocked {
		return false
	}
	switch {
	case a.HistoryLockTimestamp == nil && b.HistoryLockTimestamp == nil:
		return true
	case a.HistoryLockTimestamp == nil || b.HistoryLockTimestamp == nil:
		return false
	default:
		return a.HistoryLockTimestamp.Equal(*b.HistoryLockTimestamp)
	}
}

// Ping reports whether the remote room store is reachable, when the
// backend supports it.
func (s *Service) Ping(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.remote().(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) remote() permission.Remote {
	return s.perms.Remote()
}
