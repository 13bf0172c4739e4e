package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/hyperio-mc/agent-talk/src/observability"
	"github.com/hyperio-mc/agent-talk/src/repositories"
)

const (
	keyRecordPrefix   = "apikey:"
	keyIDRecordPrefix = "apikey_id:"
	ownerIndexPrefix  = "apikey_owner:"

	// maxCASAttempts bounds update-if-unchanged retry loops
	maxCASAttempts = 50

	// maxGenerateAttempts bounds retries after a hash collision on insert
	maxGenerateAttempts = 3

	usageLockStripes = 64
)

// KeyIdentity is what a successful validation yields
type KeyIdentity struct {
	KeyID   string
	OwnerID string
	Prefix  string
}

// IsTest returns true if the validated key is a test key
func (k KeyIdentity) IsTest() bool {
	return k.Prefix == models.KeyPrefixTest
}

// ownerIndex lists every key an owner has been issued
type ownerIndex struct {
	Keys []ownerIndexEntry `json:"keys"`
}

type ownerIndexEntry struct {
	ID     string `json:"id"`
	Hash   string `json:"hash"`
	Active bool   `json:"active"`
}

func (idx *ownerIndex) activeCount() int {
	n := 0
	for _, e := range idx.Keys {
		if e.Active {
			n++
		}
	}
	return n
}

func (idx *ownerIndex) find(keyID string) (int, bool) {
	for i, e := range idx.Keys {
		if e.ID == keyID {
			return i, true
		}
	}
	return -1, false
}

type keyIDRecord struct {
	Hash    string `json:"hash"`
	OwnerID string `json:"owner_id"`
}

// KeyServiceConfig tunes the key service
type KeyServiceConfig struct {
	// CacheTTL is how long a positive validation is reused; 0 disables the cache
	CacheTTL  time.Duration
	CacheSize int
}

// KeyService issues, validates and revokes API keys
type KeyService struct {
	store  repositories.RecordStore
	policy *TierPolicy
	cache  *expirable.LRU[string, KeyIdentity]
	now    func() time.Time

	// usageLocks serialize usage updates of one key inside this process
	usageLocks [usageLockStripes]sync.Mutex
}

// NewKeyService creates a new key service
func NewKeyService(store repositories.RecordStore, policy *TierPolicy, cfg KeyServiceConfig) *KeyService {
	ks := &KeyService{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 10000
		}
		ks.cache = expirable.NewLRU[string, KeyIdentity](size, nil, cfg.CacheTTL)
	}
	return ks
}

// SetClock replaces the time source
func (ks *KeyService) SetClock(now func() time.Time) {
	ks.now = now
}

// Create issues a new key for ownerID. The plaintext secret is returned
// exactly once; only its hash is stored.
func (ks *KeyService) Create(ctx context.Context, ownerID string, tier models.TierName, name string, isTest bool) (*models.APIKey, string, error) {
	logger := logging.FromContext(ctx, "keys")
	limit := ks.policy.MaxAPIKeys(tier)

	idx, version, err := ks.loadIndex(ctx, ownerID)
	if err != nil {
		return nil, "", err
	}
	if idx.activeCount() >= limit {
		return nil, "", limitError(limit)
	}

	key, secret, err := ks.insertKey(ctx, ownerID, name, isTest)
	if err != nil {
		return nil, "", err
	}

	// Register the key with its owner. A concurrent Create may have changed
	// the index, so re-check the limit on every retry.
	for attempt := 0; ; attempt++ {
		if idx.activeCount() >= limit {
			ks.rollback(ctx, key)
			return nil, "", limitError(limit)
		}
		idx.Keys = append(idx.Keys, ownerIndexEntry{ID: key.ID, Hash: key.Hash, Active: true})

		err = ks.saveIndex(ctx, ownerID, idx, version)
		if err == nil {
			break
		}
		if !isRaceLost(err) || attempt >= maxCASAttempts {
			ks.rollback(ctx, key)
			return nil, "", StoreError("register key with owner", err)
		}
		if idx, version, err = ks.loadIndex(ctx, ownerID); err != nil {
			ks.rollback(ctx, key)
			return nil, "", err
		}
	}

	observability.KeysIssuedTotal.WithLabelValues(key.Prefix).Inc()
	logger.Info().
		Str("owner_id", ownerID).
		Str("key_id", key.ID).
		Str("masked_key", key.Masked).
		Msg("api key created")

	return key, secret, nil
}

// insertKey generates a secret and stores the key and id records
func (ks *KeyService) insertKey(ctx context.Context, ownerID, name string, isTest bool) (*models.APIKey, string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		secret, prefix, err := GenerateKey(isTest)
		if err != nil {
			return nil, "", StoreError("generate key", err)
		}

		key := &models.APIKey{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Prefix:    prefix,
			Hash:      HashKey(secret),
			Masked:    MaskKey(secret),
			Name:      name,
			State:     models.KeyStateActive,
			CreatedAt: ks.now().UTC(),
		}

		payload, err := json.Marshal(key)
		if err != nil {
			return nil, "", StoreError("encode key", err)
		}
		if _, err := ks.store.Put(ctx, keyRecordPrefix+key.Hash, payload); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				continue
			}
			return nil, "", StoreError("store key", err)
		}

		idPayload, err := json.Marshal(keyIDRecord{Hash: key.Hash, OwnerID: ownerID})
		if err != nil {
			ks.rollback(ctx, key)
			return nil, "", StoreError("encode key id", err)
		}
		if _, err := ks.store.Put(ctx, keyIDRecordPrefix+key.ID, idPayload); err != nil {
			ks.rollback(ctx, key)
			return nil, "", StoreError("store key id", err)
		}

		return key, secret, nil
	}

	return nil, "", StoreError("store key", fmt.Errorf("hash collision after %d attempts", maxGenerateAttempts))
}

// rollback removes the records of a key whose creation failed
func (ks *KeyService) rollback(ctx context.Context, key *models.APIKey) {
	logger := logging.FromContext(ctx, "keys")
	for _, k := range []string{keyRecordPrefix + key.Hash, keyIDRecordPrefix + key.ID} {
		if err := ks.store.Delete(ctx, k); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			logger.Error().Err(err).Str("record", k).Msg("failed to roll back key record")
		}
	}
}

// Validate resolves a presented secret to the key's identity
func (ks *KeyService) Validate(ctx context.Context, secret string) (*KeyIdentity, error) {
	if !IsWellFormedKey(secret) {
		observability.KeyValidationsTotal.WithLabelValues("malformed").Inc()
		return nil, NewError(KindInvalidKeyFormat, "API key format is invalid. Keys start with live_ or test_.")
	}

	hash := HashKey(secret)
	if ks.cache != nil {
		if id, ok := ks.cache.Get(hash); ok {
			observability.KeyValidationCacheHits.Inc()
			observability.KeyValidationsTotal.WithLabelValues("valid").Inc()
			return &id, nil
		}
	}

	key, _, err := ks.loadKey(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		observability.KeyValidationsTotal.WithLabelValues("invalid").Inc()
		return nil, NewError(KindInvalidKey, "Invalid API key.")
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(key.Hash), []byte(hash)) != 1 {
		observability.KeyValidationsTotal.WithLabelValues("invalid").Inc()
		return nil, NewError(KindInvalidKey, "Invalid API key.")
	}
	if !key.IsActive() {
		observability.KeyValidationsTotal.WithLabelValues("revoked").Inc()
		return nil, NewError(KindRevokedKey, "This API key has been revoked.")
	}

	id := KeyIdentity{KeyID: key.ID, OwnerID: key.OwnerID, Prefix: key.Prefix}
	if ks.cache != nil {
		ks.cache.Add(hash, id)
	}
	observability.KeyValidationsTotal.WithLabelValues("valid").Inc()
	return &id, nil
}

// RecordUsage increments the usage counter of keyID and stamps LastUsedAt.
// Concurrent calls never lose an increment.
func (ks *KeyService) RecordUsage(ctx context.Context, keyID string) error {
	ref, err := ks.loadKeyID(ctx, keyID)
	if err != nil {
		return err
	}

	mu := &ks.usageLocks[xxhash.Sum64String(keyID)%usageLockStripes]
	mu.Lock()
	defer mu.Unlock()

	return ks.mutateKey(ctx, ref.Hash, func(k *models.APIKey) bool {
		now := ks.now().UTC()
		k.UsageCount++
		k.LastUsedAt = &now
		return true
	})
}

// Revoke permanently disables keyID. Only its owner may revoke it; any
// other caller gets NotFound. Revoking a revoked key changes nothing.
func (ks *KeyService) Revoke(ctx context.Context, keyID, ownerID string) (*models.MaskedKey, error) {
	logger := logging.FromContext(ctx, "keys")

	idx, _, err := ks.loadIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	i, ok := idx.find(keyID)
	if !ok {
		return nil, NewError(KindNotFound, "API key not found.")
	}
	hash := idx.Keys[i].Hash

	changed := false
	var revoked models.APIKey
	err = ks.mutateKey(ctx, hash, func(k *models.APIKey) bool {
		changed = k.Revoke(ks.now())
		revoked = *k
		return changed
	})
	if err != nil {
		return nil, err
	}

	if ks.cache != nil {
		ks.cache.Remove(hash)
	}
	if err := ks.markInactive(ctx, ownerID, keyID); err != nil {
		// The key record is authoritative; the index is repaired on the next revoke.
		logger.Error().Err(err).Str("key_id", keyID).Msg("failed to update owner index after revoke")
	}

	if changed {
		observability.KeysRevokedTotal.Inc()
		logger.Info().Str("owner_id", ownerID).Str("key_id", keyID).Msg("api key revoked")
	}

	view := revoked.View()
	return &view, nil
}

// List returns the masked keys of ownerID in creation order
func (ks *KeyService) List(ctx context.Context, ownerID string) ([]models.MaskedKey, error) {
	idx, _, err := ks.loadIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	keys := make([]models.MaskedKey, 0, len(idx.Keys))
	for _, e := range idx.Keys {
		key, _, err := ks.loadKey(ctx, e.Hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key.View())
	}
	return keys, nil
}

// Get returns one masked key of ownerID
func (ks *KeyService) Get(ctx context.Context, keyID, ownerID string) (*models.MaskedKey, error) {
	idx, _, err := ks.loadIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	i, ok := idx.find(keyID)
	if !ok {
		return nil, NewError(KindNotFound, "API key not found.")
	}

	key, _, err := ks.loadKey(ctx, idx.Keys[i].Hash)
	if err != nil {
		return nil, err
	}
	view := key.View()
	return &view, nil
}

// mutateKey applies fn to the key stored under hash with update-if-unchanged
// retries. fn returns false to skip the write.
func (ks *KeyService) mutateKey(ctx context.Context, hash string, fn func(k *models.APIKey) bool) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		key, version, err := ks.loadKey(ctx, hash)
		if err != nil {
			return err
		}
		if !fn(key) {
			return nil
		}

		payload, err := json.Marshal(key)
		if err != nil {
			return StoreError("encode key", err)
		}
		_, err = ks.store.Update(ctx, keyRecordPrefix+hash, payload, version)
		if err == nil {
			return nil
		}
		if !isRaceLost(err) {
			return StoreError("update key", err)
		}
		if err := ctx.Err(); err != nil {
			return StoreError("update key", err)
		}
	}
	return StoreError("update key", fmt.Errorf("gave up after %d conflicting writes", maxCASAttempts))
}

func (ks *KeyService) markInactive(ctx context.Context, ownerID, keyID string) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		idx, version, err := ks.loadIndex(ctx, ownerID)
		if err != nil {
			return err
		}
		i, ok := idx.find(keyID)
		if !ok || !idx.Keys[i].Active {
			return nil
		}
		idx.Keys[i].Active = false

		err = ks.saveIndex(ctx, ownerID, idx, version)
		if err == nil {
			return nil
		}
		if !isRaceLost(err) {
			return err
		}
	}
	return fmt.Errorf("owner index update gave up after %d attempts", maxCASAttempts)
}

func (ks *KeyService) loadKey(ctx context.Context, hash string) (*models.APIKey, int64, error) {
	rec, err := ks.store.Get(ctx, keyRecordPrefix+hash)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, 0, NewError(KindNotFound, "API key not found.")
	}
	if err != nil {
		return nil, 0, StoreError("load key", err)
	}

	var key models.APIKey
	if err := json.Unmarshal(rec.Value, &key); err != nil {
		return nil, 0, StoreError("decode key", err)
	}
	return &key, rec.Version, nil
}

func (ks *KeyService) loadKeyID(ctx context.Context, keyID string) (*keyIDRecord, error) {
	rec, err := ks.store.Get(ctx, keyIDRecordPrefix+keyID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, NewError(KindNotFound, "API key not found.")
	}
	if err != nil {
		return nil, StoreError("load key id", err)
	}

	var ref keyIDRecord
	if err := json.Unmarshal(rec.Value, &ref); err != nil {
		return nil, StoreError("decode key id", err)
	}
	return &ref, nil
}

// loadIndex returns the owner's index and its version; version 0 means
// the index does not exist yet.
func (ks *KeyService) loadIndex(ctx context.Context, ownerID string) (*ownerIndex, int64, error) {
	rec, err := ks.store.Get(ctx, ownerIndexPrefix+ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return &ownerIndex{}, 0, nil
	}
	if err != nil {
		return nil, 0, StoreError("load owner index", err)
	}

	var idx ownerIndex
	if err := json.Unmarshal(rec.Value, &idx); err != nil {
		return nil, 0, StoreError("decode owner index", err)
	}
	return &idx, rec.Version, nil
}

func (ks *KeyService) saveIndex(ctx context.Context, ownerID string, idx *ownerIndex, version int64) error {
	payload, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if version == 0 {
		_, err = ks.store.Put(ctx, ownerIndexPrefix+ownerID, payload)
		return err
	}
	_, err = ks.store.Update(ctx, ownerIndexPrefix+ownerID, payload, version)
	return err
}

// isRaceLost reports whether err means another writer got there first
func isRaceLost(err error) bool {
	return errors.Is(err, repositories.ErrVersionMismatch) || errors.Is(err, repositories.ErrConflict)
}

func limitError(limit int) *APIError {
	return &APIError{
		Kind:    KindLimitExceeded,
		Message: fmt.Sprintf("Maximum of %d active API keys reached. Revoke a key or upgrade your tier.", limit),
		Details: map[string]interface{}{"limit": limit},
	}
}
