package coordination

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"

	"nexus/internal/addressing"
	"nexus/pkg/logging"
)

const (
	entriesAnnotationKey = "nexus.io/entry-paths"
	endedAnnotationKey   = "nexus.io/ended"
	leaseNamePrefix      = "nexus-session-"
)

// LeaseStorage implements Storage on top of Kubernetes coordination/v1
// Leases: one Lease per session, HolderIdentity carries the session's hex
// ID, RenewTime/LeaseDurationSeconds carry the lease window, and the owned
// entry-path set rides in an annotation since Lease has no free-form
// payload field. This is the cluster-wide backend selected whenever a
// Kubernetes API server is reachable, per spec.md §4.1.
type LeaseStorage struct {
	client    kubernetes.Interface
	namespace string
}

// NewLeaseStorage builds a LeaseStorage from a REST config, grounded on the
// teacher's controller-runtime config-detection idiom.
func NewLeaseStorage(restConfig *rest.Config, namespace string) (*LeaseStorage, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("coordination: building clientset: %w", err)
	}
	return &LeaseStorage{client: clientset, namespace: namespace}, nil
}

// LeaseBackendAvailable reports whether an in-cluster or kubeconfig-derived
// REST config can be obtained, mirroring the teacher's IsKubernetesAvailable
// probe used for auto backend selection.
func LeaseBackendAvailable() bool {
	_, err := ctrl.GetConfig()
	return err == nil
}

func leaseName(session addressing.Session) string {
	return leaseNamePrefix + session.ID()
}

type entryPayload struct {
	Paths map[string]string `json:"paths"`
}

func (s *LeaseStorage) TryBegin(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	durationSeconds := int32(time.Until(leaseEnd).Seconds())
	if durationSeconds < 1 {
		durationSeconds = 1
	}
	now := metav1.NewMicroTime(time.Now())
	holder := session.ID()

	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      leaseName(session),
			Namespace: s.namespace,
			Annotations: map[string]string{
				entriesAnnotationKey: "{}",
			},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &durationSeconds,
			RenewTime:            &now,
		},
	}

	_, err := s.client.CoordinationV1().Leases(s.namespace).Create(ctx, lease, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return ErrAlreadyBegun
	}
	if err != nil {
		return fmt.Errorf("coordination: creating lease: %w", err)
	}
	return nil
}

// withRetry retries fn on a conflict error, re-fetching the object each
// attempt, matching the standard client-go optimistic-concurrency pattern.
func withRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !apierrors.IsConflict(err) {
			return err
		}
	}
	return err
}

func (s *LeaseStorage) UpdateLease(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	return withRetry(5, func() error {
		leases := s.client.CoordinationV1().Leases(s.namespace)
		current, err := leases.Get(ctx, leaseName(session), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return ErrSessionTerminated
		}
		if err != nil {
			return fmt.Errorf("coordination: fetching lease: %w", err)
		}
		if current.Annotations[endedAnnotationKey] == "true" {
			return ErrSessionTerminated
		}

		durationSeconds := int32(time.Until(leaseEnd).Seconds())
		if durationSeconds < 1 {
			durationSeconds = 1
		}
		now := metav1.NewMicroTime(time.Now())
		current.Spec.LeaseDurationSeconds = &durationSeconds
		current.Spec.RenewTime = &now

		_, err = leases.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
}

func (s *LeaseStorage) End(ctx context.Context, session addressing.Session) error {
	return withRetry(5, func() error {
		leases := s.client.CoordinationV1().Leases(s.namespace)
		current, err := leases.Get(ctx, leaseName(session), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("coordination: fetching lease: %w", err)
		}

		entries, err := decodeEntries(current.Annotations[entriesAnnotationKey])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return leases.Delete(ctx, current.Name, metav1.DeleteOptions{})
		}

		if current.Annotations == nil {
			current.Annotations = map[string]string{}
		}
		current.Annotations[endedAnnotationKey] = "true"
		_, err = leases.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
}

func (s *LeaseStorage) AddEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	return withRetry(5, func() error {
		leases := s.client.CoordinationV1().Leases(s.namespace)
		current, err := leases.Get(ctx, leaseName(session), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return ErrSessionTerminated
		}
		if err != nil {
			return fmt.Errorf("coordination: fetching lease: %w", err)
		}
		if current.Annotations[endedAnnotationKey] == "true" {
			return ErrSessionTerminated
		}
		if current.Spec.RenewTime != nil {
			expires := current.Spec.RenewTime.Add(time.Duration(*current.Spec.LeaseDurationSeconds) * time.Second)
			if expires.Before(time.Now()) {
				return ErrSessionTerminated
			}
		}

		entries, err := decodeEntries(current.Annotations[entriesAnnotationKey])
		if err != nil {
			return err
		}
		entries[path.String()] = path.String()

		encoded, err := encodeEntries(entries)
		if err != nil {
			return err
		}
		current.Annotations[entriesAnnotationKey] = encoded

		_, err = leases.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
}

func (s *LeaseStorage) RemoveEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	return withRetry(5, func() error {
		leases := s.client.CoordinationV1().Leases(s.namespace)
		current, err := leases.Get(ctx, leaseName(session), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("coordination: fetching lease: %w", err)
		}

		entries, err := decodeEntries(current.Annotations[entriesAnnotationKey])
		if err != nil {
			return err
		}
		delete(entries, path.String())

		if current.Annotations[endedAnnotationKey] == "true" && len(entries) == 0 {
			return leases.Delete(ctx, current.Name, metav1.DeleteOptions{})
		}

		encoded, err := encodeEntries(entries)
		if err != nil {
			return err
		}
		current.Annotations[entriesAnnotationKey] = encoded

		_, err = leases.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
}

func (s *LeaseStorage) GetEntries(ctx context.Context, session addressing.Session) ([]addressing.EntryPath, error) {
	current, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, leaseName(session), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coordination: fetching lease: %w", err)
	}

	entries, err := decodeEntries(current.Annotations[entriesAnnotationKey])
	if err != nil {
		return nil, err
	}
	out := make([]addressing.EntryPath, 0, len(entries))
	for raw := range entries {
		out = append(out, addressing.ParseEntryPath(raw))
	}
	return out, nil
}

func (s *LeaseStorage) IsAlive(ctx context.Context, session addressing.Session) (bool, error) {
	current, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, leaseName(session), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("coordination: fetching lease: %w", err)
	}
	if current.Annotations[endedAnnotationKey] == "true" {
		return false, nil
	}
	if current.Spec.RenewTime == nil || current.Spec.LeaseDurationSeconds == nil {
		return false, nil
	}
	expires := current.Spec.RenewTime.Add(time.Duration(*current.Spec.LeaseDurationSeconds) * time.Second)
	return expires.After(time.Now()), nil
}

func (s *LeaseStorage) ListSessions(ctx context.Context) ([]addressing.Session, error) {
	list, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("coordination: listing leases: %w", err)
	}

	now := time.Now()
	var out []addressing.Session
	for _, lease := range list.Items {
		if lease.Annotations[endedAnnotationKey] == "true" {
			continue
		}
		if lease.Spec.HolderIdentity == nil || lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
			continue
		}
		expires := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
		if !expires.After(now) {
			continue
		}
		idBytes, err := hex.DecodeString(*lease.Spec.HolderIdentity)
		if err != nil {
			logging.Warn("Coordination", "skipping lease with malformed holder identity %q", *lease.Spec.HolderIdentity)
			continue
		}
		out = append(out, addressing.SessionFromID(idBytes))
	}
	return out, nil
}

func (s *LeaseStorage) Get(ctx context.Context, session addressing.Session) (StoredSession, bool, error) {
	current, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, leaseName(session), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return StoredSession{}, false, nil
	}
	if err != nil {
		return StoredSession{}, false, fmt.Errorf("coordination: fetching lease: %w", err)
	}

	entries, err := decodeEntries(current.Annotations[entriesAnnotationKey])
	if err != nil {
		return StoredSession{}, false, err
	}
	record := StoredSession{
		Session:    session,
		IsEnded:    current.Annotations[endedAnnotationKey] == "true",
		EntryPaths: make(map[string]addressing.EntryPath, len(entries)),
	}
	if current.Spec.RenewTime != nil && current.Spec.LeaseDurationSeconds != nil {
		record.LeaseEnd = current.Spec.RenewTime.Add(time.Duration(*current.Spec.LeaseDurationSeconds) * time.Second)
	}
	for raw := range entries {
		record.EntryPaths[raw] = addressing.ParseEntryPath(raw)
	}
	return record, true, nil
}

func decodeEntries(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var payload entryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("coordination: decoding entry annotation: %w", err)
	}
	if payload.Paths == nil {
		payload.Paths = map[string]string{}
	}
	return payload.Paths, nil
}

func encodeEntries(entries map[string]string) (string, error) {
	encoded, err := json.Marshal(entryPayload{Paths: entries})
	if err != nil {
		return "", fmt.Errorf("coordination: encoding entry annotation: %w", err)
	}
	return string(encoded), nil
}
