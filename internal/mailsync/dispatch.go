package mailsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
)

// RemoveAction selects how RemoveMessage removes a message.
type RemoveAction int

const (
	// ActionOverlayHide hides the message locally without contacting the
	// gateway.
	ActionOverlayHide RemoveAction = iota

	// ActionRelocate moves the message to the trash folder on the server.
	ActionRelocate
)

func (a RemoveAction) String() string {
	switch a {
	case ActionRelocate:
		return "move_to_trash"
	default:
		return "soft"
	}
}

// ParseRemoveAction maps the wire action name onto a RemoveAction. Only
// "move_to_trash" relocates; every other value hides.
func ParseRemoveAction(s string) RemoveAction {
	if strings.TrimSpace(s) == "move_to_trash" {
		return ActionRelocate
	}
	return ActionOverlayHide
}

// MoveResult reports where a message ended up.
type MoveResult struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	From   string `json:"from"`

	// To is the folder now holding the message. Empty for a hide.
	To string `json:"to,omitempty"`

	// NewID is the identifier in To, when the gateway reported it.
	NewID string `json:"new_id,omitempty"`

	// AlreadyMoved is true when the message had already left From.
	AlreadyMoved bool `json:"already_moved,omitempty"`
}

// RemoveMessage removes id from folder. ActionRelocate moves it to the
// trash folder and, on failure, leaves every local state untouched rather
// than falling back to a hide. ActionOverlayHide marks it deleted in the
// overlay.
func (s *Service) RemoveMessage(ctx context.Context, id, folder string, action RemoveAction) (MoveResult, error) {
	if err := validateRef(id, folder); err != nil {
		return MoveResult{}, &StepError{Step: action.stepName(), ID: id, Folder: folder, Err: err}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	switch action {
	case ActionRelocate:
		trash, err := s.gw.TrashFolder(ctx, folder)
		if err != nil {
			return MoveResult{}, &StepError{Step: StepResolveTrash, ID: id, Folder: folder, Err: err}
		}
		if trash == folder {
			return MoveResult{}, &StepError{
				Step: StepRelocate, ID: id, Folder: folder,
				Err: fmt.Errorf("%w: message is already in the trash folder", ErrInvalidInput),
			}
		}
		res, err := s.relocate(ctx, id, folder, trash)
		if err != nil {
			return MoveResult{}, err
		}
		res.Action = action.String()
		return res, nil

	default:
		s.clearMu.RLock()
		defer s.clearMu.RUnlock()

		if err := s.overlay.MarkDeleted(ctx, id, folder); err != nil {
			return MoveResult{}, &StepError{Step: StepMarkDeleted, ID: id, Folder: folder, Err: err}
		}
		s.cache.InvalidateFolder(folder)

		s.log.Info().Str("id", id).Str("folder", folder).Msg("message hidden")
		return MoveResult{ID: id, Action: action.String(), From: folder}, nil
	}
}

func (a RemoveAction) stepName() string {
	if a == ActionRelocate {
		return StepRelocate
	}
	return StepMarkDeleted
}

// SoftDeleteEmail hides msg in the overlay.
func (s *Service) SoftDeleteEmail(ctx context.Context, msg model.Message) error {
	_, err := s.RemoveMessage(ctx, msg.ID, msg.Folder, ActionOverlayHide)
	return err
}

// Move relocates id from source to target. On failure the returned
// StepError names source as the folder still holding the message.
func (s *Service) Move(ctx context.Context, id, source, target string) (MoveResult, error) {
	if err := validateRef(id, source); err != nil {
		return MoveResult{}, &StepError{Step: StepRelocate, ID: id, Folder: source, Err: err}
	}
	if strings.TrimSpace(target) == "" || target == source {
		return MoveResult{}, &StepError{
			Step: StepRelocate, ID: id, Folder: source,
			Err: fmt.Errorf("%w: target folder must differ from source", ErrInvalidInput),
		}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	res, err := s.relocate(ctx, id, source, target)
	if err != nil {
		return MoveResult{}, err
	}
	res.Action = "move"
	return res, nil
}

// relocate moves id on the server and, only on success, invalidates both
// folders and carries the overlay record over to the new identifier.
// Callers hold the lock for id.
func (s *Service) relocate(ctx context.Context, id, source, target string) (MoveResult, error) {
	rel, err := s.gw.Relocate(ctx, id, source, target)
	if err != nil {
		s.log.Warn().Err(err).Str("id", id).Str("from", source).Str("to", target).Msg("relocate failed")
		return MoveResult{}, &StepError{Step: StepRelocate, ID: id, Folder: source, Err: err}
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	s.cache.InvalidateFolder(source)
	s.cache.InvalidateFolder(target)
	s.carryOverlay(ctx, id, rel.NewID, target)

	s.log.Info().
		Str("id", id).
		Str("from", source).
		Str("to", target).
		Str("new_id", rel.NewID).
		Bool("already_moved", rel.AlreadyMoved).
		Msg("message relocated")

	return MoveResult{
		ID:           id,
		From:         source,
		To:           target,
		NewID:        rel.NewID,
		AlreadyMoved: rel.AlreadyMoved,
	}, nil
}

// carryOverlay retires the overlay record of a relocated message. Star and
// favorite state follow the message to its new identifier when known; a
// soft-delete does not, since the relocation superseded it. The remote
// move already happened, so journal failures are logged, not returned.
func (s *Service) carryOverlay(ctx context.Context, oldID, newID, target string) {
	rec, ok := s.overlay.Get(oldID)
	if !ok {
		return
	}
	if err := s.overlay.Remove(ctx, oldID); err != nil {
		s.log.Warn().Err(err).Str("id", oldID).Msg("retiring overlay record after relocate")
		return
	}
	if newID == "" || (!rec.Starred && !rec.Favorited) {
		return
	}
	if err := s.overlay.Restore(ctx, overlay.Record{
		ID:        newID,
		Folder:    target,
		Starred:   rec.Starred,
		Favorited: rec.Favorited,
	}, true); err != nil {
		s.log.Warn().Err(err).Str("id", newID).Msg("carrying overlay record after relocate")
	}
}

// ToggleStar flips the starred state of id and returns the new state. With
// propagation on, the change is pushed as \Flagged; a push failure rolls
// the overlay back.
func (s *Service) ToggleStar(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, &StepError{Step: StepOverlay, ID: id, Err: err}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	var starred bool
	snap, err := s.writeFlags(ctx, id, func() (err error) {
		starred, err = s.overlay.ToggleStar(ctx, id)
		return err
	})
	if err != nil {
		return snap.prev.Starred, err
	}

	if err := s.push(ctx, id, model.FlagChange{Starred: &starred}, snap); err != nil {
		return snap.prev.Starred, err
	}
	return starred, nil
}

// ToggleFavorite sets the favorited state of id to value and returns it.
func (s *Service) ToggleFavorite(ctx context.Context, id string, value bool) (bool, error) {
	if err := validateID(id); err != nil {
		return false, &StepError{Step: StepOverlay, ID: id, Err: err}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	snap, err := s.writeFlags(ctx, id, func() error {
		return s.overlay.SetFavorite(ctx, id, value)
	})
	if err != nil {
		return snap.prev.Favorited, err
	}

	if err := s.push(ctx, id, model.FlagChange{Favorited: &value}, snap); err != nil {
		return snap.prev.Favorited, err
	}
	return value, nil
}

// UndeleteEmail clears the soft-delete mark of id, making it visible again.
// Star and favorite state are kept.
func (s *Service) UndeleteEmail(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return &StepError{Step: StepOverlay, ID: id, Err: err}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	rec, ok := s.overlay.Get(id)
	if !ok || !rec.Deleted() {
		return nil
	}
	if err := s.overlay.UnmarkDeleted(ctx, id); err != nil {
		return &StepError{Step: StepOverlay, ID: id, Folder: rec.Folder, Err: err}
	}
	if folder, ok := recordFolder(rec); ok {
		s.cache.InvalidateFolder(folder)
	}

	s.log.Info().Str("id", id).Str("folder", rec.Folder).Msg("message restored")
	return nil
}

// flagSnapshot is the rollback point of a flag change.
type flagSnapshot struct {
	prev    overlay.Record
	existed bool

	// clears is the ClearAllCaches count when prev was taken.
	clears uint64
}

// writeFlags snapshots id, seeds it from the server when needed and runs
// write, all without a cache clear in between.
func (s *Service) writeFlags(ctx context.Context, id string, write func() error) (flagSnapshot, error) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	snap := flagSnapshot{clears: s.clears}
	snap.prev, snap.existed = s.snapshot(id)

	err := s.seed(ctx, id, snap.existed)
	if err == nil {
		err = write()
	}
	if err != nil {
		return snap, &StepError{Step: StepOverlay, ID: id, Folder: snap.prev.Folder, Err: err}
	}
	return snap, nil
}

// snapshot returns the current overlay record for id, or an empty record
// carrying id when there is none, for use as a rollback point.
func (s *Service) snapshot(id string) (overlay.Record, bool) {
	rec, ok := s.overlay.Get(id)
	if !ok {
		return overlay.Record{ID: id}, false
	}
	return rec, true
}

// seed starts a new overlay record for id from the flags the server last
// reported for it, when propagation is on. Without a cached page holding
// id nothing is seeded. Callers hold clearMu for reading.
func (s *Service) seed(ctx context.Context, id string, existed bool) error {
	if !s.propagate || existed {
		return nil
	}
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return nil
	}
	flags, ok := s.cache.Flags(ref.Folder, id)
	if !ok {
		return nil
	}
	return s.overlay.Seed(ctx, id, flags.Flagged, flags.Favorited)
}

// push mirrors a flag change to the gateway when propagation is on. On
// success the message's folder is invalidated, since cached pages carry the
// old server flags. On failure the overlay record is restored to the
// snapshot, unless the caches were cleared while the push was in flight.
func (s *Service) push(ctx context.Context, id string, change model.FlagChange, snap flagSnapshot) error {
	if !s.propagate {
		return nil
	}
	folder := snap.prev.Folder
	if ref, perr := model.ParseMessageID(id); perr == nil {
		folder = ref.Folder
	}

	err := s.gw.SetFlags(ctx, id, change)
	if err == nil {
		if folder != "" {
			s.clearMu.RLock()
			s.cache.InvalidateFolder(folder)
			s.clearMu.RUnlock()
		}
		return nil
	}

	s.log.Warn().Err(err).Str("id", id).Msg("flag push failed, rolling back")
	s.clearMu.RLock()
	if s.clears == snap.clears {
		if rbErr := s.overlay.Restore(ctx, snap.prev, snap.existed); rbErr != nil {
			s.log.Error().Err(rbErr).Str("id", id).Msg("rolling back overlay after flag push failure")
		}
	} else {
		s.log.Debug().Str("id", id).Msg("caches cleared during flag push, nothing to roll back")
	}
	s.clearMu.RUnlock()

	return &StepError{Step: StepSetFlags, ID: id, Folder: folder, Err: err}
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	return nil
}

func validateRef(id, folder string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if strings.TrimSpace(folder) == "" {
		return fmt.Errorf("%w: folder is required", ErrInvalidInput)
	}
	if ref, err := model.ParseMessageID(id); err == nil && ref.Folder != folder {
		return fmt.Errorf("%w: message %s is not in folder %q", ErrInvalidInput, id, folder)
	}
	return nil
}
