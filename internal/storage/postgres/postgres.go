// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
	"github.com/rovshanmuradov/keycurve/internal/storage/models"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// newGormLogger создает новый логгер для GORM
func newGormLogger(zapLogger *zap.Logger, level logger.LogLevel) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      level,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode реализация интерфейса logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace логирует запросы; конфликт версий и отсутствие записи не считаются ошибкой
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey):
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("trace", fields...)
	}
}

// Config - параметры пула соединений
type Config struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// DefaultConfig возвращает настройки пула по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		LogLevel:        logger.Warn,
	}
}

// Storage реализует storage.Store поверх GORM
type Storage struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ storage.Store = (*Storage)(nil)

// NewStorage подключается к PostgreSQL
func NewStorage(dsn string, cfg Config, zapLogger *zap.Logger) (*Storage, error) {
	return Open(postgres.Open(dsn), cfg, zapLogger)
}

// Open открывает хранилище на любом диалекте GORM (postgres, sqlite)
func Open(dialector gorm.Dialector, cfg Config, zapLogger *zap.Logger) (*Storage, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm"), cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Storage{
		db:     db,
		logger: zapLogger.Named("storage"),
	}, nil
}

// RunMigrations использует GORM AutoMigrate; на PostgreSQL под advisory lock
func (p *Storage) RunMigrations(ctx context.Context) error {
	db := p.db.WithContext(ctx)

	if db.Dialector.Name() == "postgres" {
		var lockObtained bool
		if err := db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return fmt.Errorf("another migration is in progress")
		}
		defer db.Exec("SELECT pg_advisory_unlock(101)")
	}

	err := db.AutoMigrate(
		&models.Curve{},
		&models.Holder{},
		&models.CurveEvent{},
		&models.PriceSnapshot{},
		&models.LaunchSnapshot{},
		&models.AirdropClaim{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	p.logger.Info("Migrations applied", zap.String("dialect", db.Dialector.Name()))
	return nil
}

func (p *Storage) GetCurve(ctx context.Context, id string) (*domain.Curve, error) {
	var row models.Curve
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

func (p *Storage) FindCurveByOwner(ctx context.Context, ownerType domain.OwnerType, ownerID string) (*domain.Curve, error) {
	var row models.Curve
	err := p.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", string(ownerType), ownerID).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

func (p *Storage) ListCurves(ctx context.Context, f storage.CurveFilter) ([]*domain.Curve, error) {
	q := p.db.WithContext(ctx).Model(&models.Curve{})
	if f.OwnerType != "" {
		q = q.Where("owner_type = ?", string(f.OwnerType))
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		q = q.Where("state IN ?", states)
	}

	var rows []models.Curve
	if err := paginate(q.Order("created_at asc, id asc"), f.Limit, f.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list curves: %w", err)
	}

	out := make([]*domain.Curve, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (p *Storage) GetHolder(ctx context.Context, curveID, userID string) (*domain.Holder, error) {
	var row models.Holder
	err := p.db.WithContext(ctx).
		Where("curve_id = ? AND user_id = ?", curveID, userID).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

func (p *Storage) ListHolders(ctx context.Context, curveID string, f storage.HolderFilter) ([]*domain.Holder, error) {
	return p.listHolders(ctx, p.db.WithContext(ctx).Where("curve_id = ?", curveID), f)
}

func (p *Storage) ListHoldingsByUser(ctx context.Context, userID string, f storage.HolderFilter) ([]*domain.Holder, error) {
	return p.listHolders(ctx, p.db.WithContext(ctx).Where("user_id = ?", userID), f)
}

func (p *Storage) listHolders(_ context.Context, q *gorm.DB, f storage.HolderFilter) ([]*domain.Holder, error) {
	if f.ActiveOnly {
		q = q.Where("balance > 0")
	}

	var rows []models.Holder
	if err := paginate(q.Order("balance desc, id asc"), f.Limit, f.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}

	out := make([]*domain.Holder, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (p *Storage) ListEvents(ctx context.Context, curveID string, f storage.EventFilter) ([]*domain.CurveEvent, error) {
	q := p.db.WithContext(ctx).Where("curve_id = ?", curveID)
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN ?", types)
	}
	if f.Newest {
		q = q.Order("created_at desc, seq desc")
	} else {
		q = q.Order("created_at asc, seq asc")
	}

	var rows []models.CurveEvent
	if err := paginate(q, f.Limit, 0).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]*domain.CurveEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (p *Storage) AppendPriceSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	if snap == nil || snap.CurveID == "" || snap.ID == "" {
		return storage.ErrInvalidInput
	}
	if err := p.db.WithContext(ctx).Create(models.PriceSnapshotFromDomain(snap)).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (p *Storage) ListPriceSnapshots(ctx context.Context, curveID string, since time.Time) ([]*domain.PriceSnapshot, error) {
	var rows []models.PriceSnapshot
	err := p.db.WithContext(ctx).
		Where("curve_id = ? AND created_at >= ?", curveID, since).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list price snapshots: %w", err)
	}

	out := make([]*domain.PriceSnapshot, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (p *Storage) GetLaunchSnapshot(ctx context.Context, curveID string) (*domain.LaunchSnapshot, error) {
	var row models.LaunchSnapshot
	if err := p.db.WithContext(ctx).Where("id = ?", curveID).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

func (p *Storage) GetClaim(ctx context.Context, curveID, userID string) (*domain.AirdropClaim, error) {
	var row models.AirdropClaim
	err := p.db.WithContext(ctx).
		Where("curve_id = ? AND user_id = ?", curveID, userID).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// Commit применяет мутацию в одной транзакции. Условные обновления проверяют
// version в WHERE; ноль затронутых строк откатывает все изменения.
func (p *Storage) Commit(ctx context.Context, m *storage.Mutation) error {
	if m == nil || m.Empty() {
		return storage.ErrInvalidInput
	}

	var seqs []uint64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.Curve != nil {
			row := models.CurveFromDomain(m.Curve)
			if err := save(tx, row, &row.BaseModel, m.Curve.Version); err != nil {
				return err
			}
		}
		for _, h := range m.Holders {
			row := models.HolderFromDomain(h)
			if err := save(tx, row, &row.BaseModel, h.Version); err != nil {
				return err
			}
		}
		if m.LaunchSnapshot != nil {
			row := models.LaunchSnapshotFromDomain(m.LaunchSnapshot)
			if err := save(tx, row, &row.BaseModel, m.LaunchSnapshot.Version); err != nil {
				return err
			}
		}
		if m.Claim != nil {
			row := models.ClaimFromDomain(m.Claim)
			if err := save(tx, row, &row.BaseModel, m.Claim.Version); err != nil {
				return err
			}
		}
		var err error
		if seqs, err = assignEventSeqs(tx, m.Events); err != nil {
			return err
		}
		for i, e := range m.Events {
			row := models.EventFromDomain(e)
			row.Seq = seqs[i]
			if err := tx.Create(row).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrDuplicateKey) {
			p.logger.Debug("Commit rejected", zap.Error(err))
			return err
		}
		return fmt.Errorf("failed to commit mutation: %w", err)
	}

	// версии увеличиваются только после фиксации транзакции
	if m.Curve != nil {
		m.Curve.Version++
	}
	for _, h := range m.Holders {
		h.Version++
	}
	if m.LaunchSnapshot != nil {
		m.LaunchSnapshot.Version++
	}
	if m.Claim != nil {
		m.Claim.Version++
	}
	for i, e := range m.Events {
		e.Seq = seqs[i]
	}
	return nil
}

// assignEventSeqs выдает следующие номера в журнале каждой кривой. На PostgreSQL
// добавление в журнал кривой сериализуется транзакционным advisory lock,
// sqlite и так допускает одного писателя.
func assignEventSeqs(tx *gorm.DB, events []*domain.CurveEvent) ([]uint64, error) {
	seqs := make([]uint64, len(events))
	next := make(map[string]uint64)
	for i, e := range events {
		last, ok := next[e.CurveID]
		if !ok {
			if tx.Dialector.Name() == "postgres" {
				if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", e.CurveID).Error; err != nil {
					return nil, fmt.Errorf("failed to lock event log: %w", err)
				}
			}
			var maxSeq uint64
			err := tx.Model(&models.CurveEvent{}).
				Where("curve_id = ?", e.CurveID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&maxSeq).Error
			if err != nil {
				return nil, fmt.Errorf("failed to read event sequence: %w", err)
			}
			last = maxSeq
		}
		last++
		next[e.CurveID] = last
		seqs[i] = last
	}
	return seqs, nil
}

// save создает строку (expected == 0) или обновляет ее при совпадении версии
func save(tx *gorm.DB, row interface{}, meta *models.BaseModel, expected int64) error {
	meta.Version = expected + 1
	if expected == 0 {
		if err := tx.Create(row).Error; err != nil {
			return translate(err)
		}
		return nil
	}

	res := tx.Model(row).Where("version = ?", expected).Select("*").Updates(row)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// Close закрывает пул соединений
func (p *Storage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrDuplicateKey
	default:
		return err
	}
}

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
