package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// DefaultConfigQuery selects one row per tenant: the tenant id and its terminal config
// document.
const DefaultConfigQuery = `
	SELECT tenant_id, terminal_config
	FROM tenant_terminals
	WHERE terminal_config IS NOT NULL
	ORDER BY tenant_id
`

// TenantTerminal pairs a tenant with its parsed terminal configuration.
type TenantTerminal struct {
	TenantID string
	Config   terminal.Config
}

// ConfigRepository reads tenant terminal configs owned by the tenant CRUD layer.
type ConfigRepository struct {
	db     *sql.DB
	query  string
	logger *zap.Logger
}

// NewConfigRepository returns repository. An empty query uses DefaultConfigQuery.
func NewConfigRepository(db *sql.DB, query string, logger *zap.Logger) *ConfigRepository {
	if strings.TrimSpace(query) == "" {
		query = DefaultConfigQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigRepository{db: db, query: query, logger: logger}
}

// List returns every tenant terminal. Rows with a broken document are logged and skipped.
func (r *ConfigRepository) List(ctx context.Context) ([]TenantTerminal, error) {
	rows, err := r.db.QueryContext(ctx, r.query)
	if err != nil {
		return nil, fmt.Errorf("repository: query tenant terminals: %w", err)
	}
	defer rows.Close()

	var out []TenantTerminal
	for rows.Next() {
		var (
			tenantID string
			raw      []byte
		)
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, fmt.Errorf("repository: scan tenant terminal: %w", err)
		}
		tt, err := parseRow(tenantID, raw)
		if err != nil {
			r.logger.Warn("skipping tenant terminal", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		out = append(out, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate tenant terminals: %w", err)
	}
	return out, nil
}

func parseRow(tenantID string, raw []byte) (TenantTerminal, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return TenantTerminal{}, errors.New("empty tenant id")
	}
	if len(raw) == 0 {
		return TenantTerminal{}, errors.New("empty terminal config")
	}
	cfg, err := terminal.ParseConfig(raw)
	if err != nil {
		return TenantTerminal{}, err
	}
	return TenantTerminal{TenantID: tenantID, Config: cfg}, nil
}
