package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/trackline/platform/internal/shared/config"
)

// ImportedProject is a project row pulled from the legacy tracker
type ImportedProject struct {
	LegacyID   string
	Name       string
	UnitName   string
	Archived   bool
	ModifiedAt time.Time
}

// ImportedTask is a task row pulled from the legacy tracker
type ImportedTask struct {
	LegacyID        string
	LegacyProjectID string
	Title           string
	Status          string
	Archived        bool
	ModifiedAt      time.Time
}

// Adapter polls a legacy tracker running on SQL Server and emits changed
// rows on buffered channels. Import consumers decide how rows map onto the
// platform's project tree; the adapter only moves data.
type Adapter struct {
	db     *sql.DB
	config config.LegacyConfig

	projectChan chan ImportedProject
	taskChan    chan ImportedTask

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates a new legacy tracker adapter
func New(cfg config.LegacyConfig) *Adapter {
	return &Adapter{
		config:      cfg,
		projectChan: make(chan ImportedProject, 256),
		taskChan:    make(chan ImportedTask, 256),
	}
}

// Projects returns the channel of imported project rows
func (a *Adapter) Projects() <-chan ImportedProject {
	return a.projectChan
}

// Tasks returns the channel of imported task rows
func (a *Adapter) Tasks() <-chan ImportedTask {
	return a.taskChan
}

// Start opens the database connection and starts the poll loop
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open legacy database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping legacy database: %w", err)
	}

	interval := time.Duration(a.config.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-interval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx, interval)

	return nil
}

// Stop stops the poll loop and closes connections
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(a.projectChan)
	close(a.taskChan)

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}

	return a.db.PingContext(ctx)
}

// IsConnected returns connection status
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

func (a *Adapter) pollLoop(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			lastPoll := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.pollProjects(ctx, lastPoll); err != nil {
				fmt.Printf("Error polling legacy projects: %v\n", err)
			}
			if err := a.pollTasks(ctx, lastPoll); err != nil {
				fmt.Printf("Error polling legacy tasks: %v\n", err)
			}
		}
	}
}

// pollProjects fetches project rows modified since the last sweep
func (a *Adapter) pollProjects(ctx context.Context, since time.Time) error {
	query := `
		SELECT ProjectID, Name, UnitName, IsArchived, ModifiedAt
		FROM dbo.Projects
		WHERE ModifiedAt > @since
		ORDER BY ModifiedAt ASC`

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var imported ImportedProject
		var unitName sql.NullString

		err := rows.Scan(
			&imported.LegacyID,
			&imported.Name,
			&unitName,
			&imported.Archived,
			&imported.ModifiedAt,
		)
		if err != nil {
			return err
		}

		if unitName.Valid {
			imported.UnitName = unitName.String
		}

		select {
		case a.projectChan <- imported:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Buffer full; the row will reappear on the next sweep.
		}
	}

	return rows.Err()
}

// pollTasks fetches task rows modified since the last sweep
func (a *Adapter) pollTasks(ctx context.Context, since time.Time) error {
	query := `
		SELECT t.TaskID, t.ProjectID, t.Title, t.Status, t.IsArchived, t.ModifiedAt
		FROM dbo.Tasks t
		WHERE t.ModifiedAt > @since
		ORDER BY t.ModifiedAt ASC`

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var imported ImportedTask
		var status sql.NullString

		err := rows.Scan(
			&imported.LegacyID,
			&imported.LegacyProjectID,
			&imported.Title,
			&status,
			&imported.Archived,
			&imported.ModifiedAt,
		)
		if err != nil {
			return err
		}

		if status.Valid {
			imported.Status = status.String
		}

		select {
		case a.taskChan <- imported:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return rows.Err()
}
