package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/progsync/internal/model"
)

// LoadEnrollment reads the cached enrollment snapshot.
//
// Returns (nil, nil) when no snapshot exists. A snapshot that fails to parse
// is removed and reported as a CACHE_CORRUPTION error alongside a nil
// enrollment, so callers fall through to the remote path.
func LoadEnrollment(s Store) (*model.Enrollment, error) {
	raw, ok, err := s.Get(model.EnrollmentKey)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var e model.Enrollment
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.UserID == "" {
		if err == nil {
			err = errors.New("missing user_id")
		}
		_ = s.Remove(model.EnrollmentKey)
		return nil, model.NewCacheCorruptionError(model.EnrollmentKey, err)
	}
	return &e, nil
}

// SaveEnrollment writes the enrollment snapshot.
//
// If a snapshot for a different user is already cached it is replaced; the
// session only calls this with an enrollment for its current identity.
// Returns whether the stored bytes changed.
func SaveEnrollment(s Store, e model.Enrollment) (bool, error) {
	value, err := marshalValue(e.Normalize())
	if err != nil {
		return false, fmt.Errorf("save enrollment: %w", err)
	}

	prev, ok, err := s.Get(model.EnrollmentKey)
	if err != nil {
		return false, fmt.Errorf("save enrollment: %w", err)
	}
	if ok && prev == value {
		return false, nil
	}

	if err := s.Set(model.EnrollmentKey, value); err != nil {
		return false, fmt.Errorf("save enrollment: %w", err)
	}
	return true, nil
}

// ClearEnrollment removes every enrollment key.
func ClearEnrollment(s Store) error {
	var errs []error
	for _, key := range model.EnrollmentKeys() {
		if err := s.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// storedCompletion is the on-disk shape of a completion record.
type storedCompletion struct {
	Response   string           `json:"response"`
	Timestamp  time.Time        `json:"timestamp"`
	Durability model.Durability `json:"durability,omitempty"`
}

// SaveCompletion creates the completion record for (user, week, section).
//
// Records are created exactly once: if one already exists it is left
// untouched and created is false.
func SaveCompletion(s Store, userID string, rec model.SectionCompletionRecord) (created bool, err error) {
	key := model.ActivityKey(userID, rec.WeekNumber, rec.SectionIndex)
	if _, ok, err := s.Get(key); err != nil {
		return false, fmt.Errorf("save completion: %w", err)
	} else if ok {
		return false, nil
	}

	if rec.Durability == "" {
		rec.Durability = model.DurabilityPending
	}
	value, err := marshalValue(storedCompletion{
		Response:   rec.ResponseText,
		Timestamp:  rec.SubmittedAt.UTC(),
		Durability: rec.Durability,
	})
	if err != nil {
		return false, fmt.Errorf("save completion: %w", err)
	}
	if err := s.Set(key, value); err != nil {
		return false, fmt.Errorf("save completion: %w", err)
	}
	return true, nil
}

// LoadCompletion reads one completion record. Returns (nil, nil) if absent.
func LoadCompletion(s Store, userID string, week, section int) (*model.SectionCompletionRecord, error) {
	key := model.ActivityKey(userID, week, section)
	raw, ok, err := s.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load completion: %w", err)
	}
	if !ok {
		return nil, nil
	}
	rec, err := decodeCompletion(raw, week, section)
	if err != nil {
		return &rec, model.NewCacheCorruptionError(key, err)
	}
	return &rec, nil
}

// UpdateDurability moves a record's durability flag forward.
//
// This is the only mutation a completion record ever receives. Transitions
// not allowed by model.Durability.CanTransition are ignored and reported
// as changed=false.
func UpdateDurability(s Store, userID string, week, section int, next model.Durability) (changed bool, err error) {
	key := model.ActivityKey(userID, week, section)
	raw, ok, err := s.Get(key)
	if err != nil {
		return false, fmt.Errorf("update durability: %w", err)
	}
	if !ok {
		return false, nil
	}

	var sc storedCompletion
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return false, model.NewCacheCorruptionError(key, err)
	}
	current := sc.Durability
	if current == "" {
		current = model.DurabilityPending
	}
	if !current.CanTransition(next) {
		return false, nil
	}

	sc.Durability = next
	value, err := marshalValue(sc)
	if err != nil {
		return false, fmt.Errorf("update durability: %w", err)
	}
	if err := s.Set(key, value); err != nil {
		return false, fmt.Errorf("update durability: %w", err)
	}
	return true, nil
}

// ListCompletions returns every completion record of a user's week ordered
// by section index.
//
// A record whose value fails to parse still proves the section was
// submitted: it is returned with an empty response and orphaned_local
// durability, and the parse failure is joined into the returned error.
// Records are never removed here.
func ListCompletions(s Store, userID string, week int) ([]model.SectionCompletionRecord, error) {
	prefix := model.ActivityPrefix(userID, week)
	keys, err := s.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}

	records := make([]model.SectionCompletionRecord, 0, len(keys))
	var errs []error
	for _, key := range keys {
		section, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		raw, ok, err := s.Get(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		rec, err := decodeCompletion(raw, week, section)
		if err != nil {
			errs = append(errs, model.NewCacheCorruptionError(key, err))
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SectionIndex < records[j].SectionIndex
	})
	return records, errors.Join(errs...)
}

// decodeCompletion parses a stored record. On failure it still returns a
// record identifying the section, marked orphaned_local.
func decodeCompletion(raw string, week, section int) (model.SectionCompletionRecord, error) {
	rec := model.SectionCompletionRecord{
		WeekNumber:   week,
		SectionIndex: section,
		Durability:   model.DurabilityOrphanedLocal,
	}
	var sc storedCompletion
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return rec, err
	}
	rec.ResponseText = sc.Response
	rec.SubmittedAt = sc.Timestamp
	rec.Durability = sc.Durability
	if rec.Durability == "" {
		rec.Durability = model.DurabilityPending
	}
	return rec, nil
}

// MarkRead flags an activity-free section of a user's week as read.
// Returns false when the flag was already set.
func MarkRead(s Store, userID string, week, section int) (bool, error) {
	key := model.ReadKey(userID, week, section)
	if _, ok, err := s.Get(key); err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	} else if ok {
		return false, nil
	}
	if err := s.Set(key, "true"); err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return true, nil
}

// ListRead returns the sections of a user's week flagged as read, in
// ascending order.
func ListRead(s Store, userID string, week int) ([]int, error) {
	prefix := model.ReadPrefix(userID, week)
	keys, err := s.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("list read sections: %w", err)
	}
	sections := make([]int, 0, len(keys))
	for _, key := range keys {
		if section, err := strconv.Atoi(strings.TrimPrefix(key, prefix)); err == nil {
			sections = append(sections, section)
		}
	}
	sort.Ints(sections)
	return sections, nil
}

// Onboarded reports whether the onboarding flag is set for a user.
func Onboarded(s Store, userID string) bool {
	v, ok, err := s.Get(model.OnboardingKey(userID))
	return err == nil && ok && v == "true"
}

// MarkOnboarded sets the onboarding flag for a user.
func MarkOnboarded(s Store, userID string) error {
	if err := s.Set(model.OnboardingKey(userID), "true"); err != nil {
		return fmt.Errorf("mark onboarded: %w", err)
	}
	return nil
}
