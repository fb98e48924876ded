// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// Ошибки хранилища
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidInput    = errors.New("invalid input")
)

// CurveFilter ограничивает выборку кривых.
type CurveFilter struct {
	OwnerType domain.OwnerType
	OwnerID   string
	States    []domain.State
	Limit     int
	Offset    int
}

// HolderFilter ограничивает выборку позиций. ActiveOnly оставляет balance > 0,
// результат всегда отсортирован по balance по убыванию.
type HolderFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

// EventFilter ограничивает выборку событий. Результат отсортирован по времени.
type EventFilter struct {
	Since  time.Time
	Types  []domain.EventType
	Limit  int
	Newest bool // сначала новые
}

// Mutation - набор изменений, применяемых атомарно.
//
// Для документов с версией: Version == 0 означает создание (ErrDuplicateKey,
// если ключ занят), иначе условное обновление, которое проходит только если
// сохраненная версия совпадает (ErrVersionConflict). После успешного Commit
// версии переданных документов увеличены, а событиям присвоен Seq - следующий
// номер в журнале их кривой.
type Mutation struct {
	Curve          *domain.Curve
	Holders        []*domain.Holder
	LaunchSnapshot *domain.LaunchSnapshot
	Claim          *domain.AirdropClaim
	Events         []*domain.CurveEvent
}

// Empty reports whether the mutation writes nothing.
func (m *Mutation) Empty() bool {
	return m.Curve == nil && len(m.Holders) == 0 && m.LaunchSnapshot == nil &&
		m.Claim == nil && len(m.Events) == 0
}

// CurveReader - чтение кривых.
type CurveReader interface {
	GetCurve(ctx context.Context, id string) (*domain.Curve, error)
	FindCurveByOwner(ctx context.Context, ownerType domain.OwnerType, ownerID string) (*domain.Curve, error)
	ListCurves(ctx context.Context, filter CurveFilter) ([]*domain.Curve, error)
}

// HolderReader - чтение позиций.
type HolderReader interface {
	GetHolder(ctx context.Context, curveID, userID string) (*domain.Holder, error)
	ListHolders(ctx context.Context, curveID string, filter HolderFilter) ([]*domain.Holder, error)
	ListHoldingsByUser(ctx context.Context, userID string, filter HolderFilter) ([]*domain.Holder, error)
}

// EventReader - чтение журнала событий.
type EventReader interface {
	ListEvents(ctx context.Context, curveID string, filter EventFilter) ([]*domain.CurveEvent, error)
}

// PriceSnapshotStore - журнал снимков цены. Запись вне Mutation, так как
// снимок не критичен для сделки.
type PriceSnapshotStore interface {
	AppendPriceSnapshot(ctx context.Context, snapshot *domain.PriceSnapshot) error
	ListPriceSnapshots(ctx context.Context, curveID string, since time.Time) ([]*domain.PriceSnapshot, error)
}

// LaunchReader - чтение снимка запуска и заявок на аирдроп.
type LaunchReader interface {
	GetLaunchSnapshot(ctx context.Context, curveID string) (*domain.LaunchSnapshot, error)
	GetClaim(ctx context.Context, curveID, userID string) (*domain.AirdropClaim, error)
}

// Store определяет интерфейс хранилища документов.
type Store interface {
	CurveReader
	HolderReader
	EventReader
	PriceSnapshotStore
	LaunchReader

	// Commit применяет все изменения или ни одного.
	Commit(ctx context.Context, m *Mutation) error

	Close() error
}
