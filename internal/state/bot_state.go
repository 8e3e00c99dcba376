package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	KeyAsset     = "bot:asset"
	KeyIsBuying  = "bot:is_buying"
	KeyLastRSI   = "bot:last_rsi"
	KeyVersion   = "bot:version"
	KeyUpdatedAt = "bot:updated_at_ms"
)

var (
	// ErrStaleState means the stored state moved after it was loaded.
	ErrStaleState = errors.New("bot state changed since it was loaded")
	// ErrAssetMismatch means the store holds the state of another asset.
	ErrAssetMismatch = errors.New("stored bot state belongs to another asset")
)

// BotState is the persisted part of the live loop. HasLastRSI is false until
// the first cycle completes.
type BotState struct {
	Asset       string
	IsBuying    bool
	LastRSI     float64
	HasLastRSI  bool
	Version     int64
	UpdatedAtMS int64
}

// BotStateStore is the only writer of BotState. Commit serializes writers
// with a mutex and rejects commits based on an outdated Load.
type BotStateStore struct {
	store         Store
	asset         string
	initialBuying bool
	now           func() time.Time

	mu sync.Mutex
}

// NewBotStateStore wraps store for one traded asset. initialBuying is
// reported until a state has been committed.
func NewBotStateStore(store Store, asset string, initialBuying bool) *BotStateStore {
	return &BotStateStore{store: store, asset: asset, initialBuying: initialBuying, now: time.Now}
}

func (s *BotStateStore) Load(ctx context.Context) (BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *BotStateStore) load(ctx context.Context) (BotState, error) {
	st := BotState{Asset: s.asset, IsBuying: s.initialBuying}
	if raw, ok, err := s.store.Get(ctx, KeyAsset); err != nil {
		return BotState{}, err
	} else if ok && raw != "" && !strings.EqualFold(raw, s.asset) {
		return BotState{}, fmt.Errorf("stored %s, configured %s: %w", raw, s.asset, ErrAssetMismatch)
	}
	if raw, ok, err := s.store.Get(ctx, KeyIsBuying); err != nil {
		return BotState{}, err
	} else if ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return BotState{}, fmt.Errorf("%s: %w", KeyIsBuying, err)
		}
		st.IsBuying = v
	}
	if raw, ok, err := s.store.Get(ctx, KeyLastRSI); err != nil {
		return BotState{}, err
	} else if ok && raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return BotState{}, fmt.Errorf("%s: %w", KeyLastRSI, err)
		}
		st.LastRSI = v
		st.HasLastRSI = true
	}
	if raw, ok, err := s.store.Get(ctx, KeyVersion); err != nil {
		return BotState{}, err
	} else if ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return BotState{}, fmt.Errorf("%s: %w", KeyVersion, err)
		}
		st.Version = v
	}
	if raw, ok, err := s.store.Get(ctx, KeyUpdatedAt); err != nil {
		return BotState{}, err
	} else if ok {
		st.UpdatedAtMS, _ = strconv.ParseInt(raw, 10, 64)
	}
	return st, nil
}

// Commit writes isBuying and lastRSI in one transaction and bumps the
// version. base must be the state the caller decided on; if another commit
// landed in between, ErrStaleState is returned and nothing is written.
func (s *BotStateStore) Commit(ctx context.Context, base BotState, isBuying bool, lastRSI float64) (BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load(ctx)
	if err != nil {
		return BotState{}, err
	}
	if current.Version != base.Version {
		return BotState{}, fmt.Errorf("loaded version %d, stored %d: %w", base.Version, current.Version, ErrStaleState)
	}
	next := BotState{
		Asset:       s.asset,
		IsBuying:    isBuying,
		LastRSI:     lastRSI,
		HasLastRSI:  true,
		Version:     current.Version + 1,
		UpdatedAtMS: s.now().UnixMilli(),
	}
	err = s.store.SetMany(ctx, map[string]string{
		KeyAsset:     next.Asset,
		KeyIsBuying:  strconv.FormatBool(next.IsBuying),
		KeyLastRSI:   strconv.FormatFloat(next.LastRSI, 'g', -1, 64),
		KeyVersion:   strconv.FormatInt(next.Version, 10),
		KeyUpdatedAt: strconv.FormatInt(next.UpdatedAtMS, 10),
	})
	if err != nil {
		return BotState{}, err
	}
	return next, nil
}
