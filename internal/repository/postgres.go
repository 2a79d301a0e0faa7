// Package repository содержит реализацию доступа к данным в PostgreSQL:
// пользователи, журнал операций пула, раунды розыгрышей и победители.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks;
		// с переподключением pgxpool справляется сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// nullableUserID переводит идентификатор в параметр запроса: системные
// операции (userID == 0) журналируются без привязки к пользователю,
// иначе вставка нарушила бы внешний ключ на users.
func nullableUserID(userID int64) any {
	if userID == 0 {
		return nil
	}
	return userID
}

// RecordOperation добавляет запись в журнал операций пула.
func (r *PostgresRepository) RecordOperation(ctx context.Context, userID int64, opType model.OperationType, amountCents int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO operations (user_id, type, amount) VALUES ($1, $2, $3)`,
			nullableUserID(userID), string(opType), amountCents,
		)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
		return nil
	})
}

// GetOperationsByUser возвращает журнал операций пользователя, новые первыми.
func (r *PostgresRepository) GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, amount, processed_at
		 FROM operations
		 WHERE user_id = $1
		 ORDER BY processed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select operations: %w", err)
	}
	defer rows.Close()

	var res []model.Operation
	for rows.Next() {
		var (
			opType      string
			amountCents int64
			processedAt time.Time
		)
		if err := rows.Scan(&opType, &amountCents, &processedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}

		res = append(res, model.Operation{
			UserID:      userID,
			Type:        model.OperationType(opType),
			Amount:      float64(amountCents) / 100,
			ProcessedAt: processedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RecordDrawStarted фиксирует начало раунда розыгрыша.
func (r *PostgresRepository) RecordDrawStarted(ctx context.Context, round uint64, prizeCents int64, requestID string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO draw_rounds (round, prize, request_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (round) DO NOTHING`,
			int64(round), prizeCents, requestID,
		)
		if err != nil {
			return fmt.Errorf("insert draw round: %w", err)
		}
		return nil
	})
}

// RecordDrawCompleted отмечает раунд завершённым.
func (r *PostgresRepository) RecordDrawCompleted(ctx context.Context, round uint64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE draw_rounds SET completed_at = now() WHERE round = $1`,
			int64(round),
		)
		if err != nil {
			return fmt.Errorf("update draw round: %w", err)
		}
		return nil
	})
}

// RecordWinner сохраняет победителя раунда и назначенные ему NFT.
func (r *PostgresRepository) RecordWinner(ctx context.Context, round uint64, winnerID, amountCents int64, nftIDs []uint64) error {
	ids := make([]int64, len(nftIDs))
	for i, id := range nftIDs {
		ids[i] = int64(id)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO draw_winners (round, user_id, amount, nft_ids) VALUES ($1, $2, $3, $4)`,
			int64(round), winnerID, amountCents, ids,
		)
		if err != nil {
			return fmt.Errorf("insert draw winner: %w", err)
		}
		return nil
	})
}

// DrawWinner описывает запись о победителе в истории розыгрышей.
type DrawWinner struct {
	Round     uint64
	UserID    int64
	Amount    float64
	NFTIDs    []uint64
	AwardedAt time.Time
}

// GetRecentWinners возвращает последних победителей, новые первыми.
func (r *PostgresRepository) GetRecentWinners(ctx context.Context, limit int) ([]DrawWinner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT round, user_id, amount, nft_ids, awarded_at
		 FROM draw_winners
		 ORDER BY awarded_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select winners: %w", err)
	}
	defer rows.Close()

	var res []DrawWinner
	for rows.Next() {
		var (
			round       int64
			userID      int64
			amountCents int64
			ids         []int64
			awardedAt   time.Time
		)
		if err := rows.Scan(&round, &userID, &amountCents, &ids, &awardedAt); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}

		nftIDs := make([]uint64, len(ids))
		for i, id := range ids {
			nftIDs[i] = uint64(id)
		}

		res = append(res, DrawWinner{
			Round:     uint64(round),
			UserID:    userID,
			Amount:    float64(amountCents) / 100,
			NFTIDs:    nftIDs,
			AwardedAt: awardedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RecordStateTransition сохраняет переход аварийного состояния пула.
func (r *PostgresRepository) RecordStateTransition(ctx context.Context, state model.PoolState, reason string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO state_transitions (state, reason) VALUES ($1, $2)`,
			string(state), reason,
		)
		if err != nil {
			return fmt.Errorf("insert state transition: %w", err)
		}
		return nil
	})
}
