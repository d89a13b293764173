package storage

// The ledger invariants live in the schema as hard constraints, not just
// application checks: an offline audit of the database file must hold up
// without this codebase present. Mirrors what the application enforces —
// non-negative money, price bounds, the resolved-state biconditional, the
// action direction/sign agreement, and run counter ordering.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id               TEXT PRIMARY KEY,
    drug_name        TEXT NOT NULL,
    company_name     TEXT NOT NULL,
    symbols          TEXT NOT NULL DEFAULT '',
    application_type TEXT NOT NULL DEFAULT 'NDA',
    decision_date    TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    therapeutic_area TEXT NOT NULL DEFAULT '',
    outcome          TEXT NOT NULL DEFAULT 'Pending',
    created_at       TEXT NOT NULL,
    CONSTRAINT events_outcome_check CHECK (outcome IN ('Pending', 'Approved', 'Rejected'))
);

CREATE TABLE IF NOT EXISTS markets (
    id                  TEXT PRIMARY KEY,
    event_id            TEXT NOT NULL REFERENCES events(id),
    status              TEXT NOT NULL DEFAULT 'OPEN',
    opening_probability REAL NOT NULL,
    b                   REAL NOT NULL,
    q_yes               REAL NOT NULL DEFAULT 0,
    q_no                REAL NOT NULL DEFAULT 0,
    price_yes           REAL NOT NULL DEFAULT 0.5,
    opened_at           TEXT NOT NULL,
    resolved_at         TEXT,
    resolved_outcome    TEXT,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL,
    CONSTRAINT markets_status_check  CHECK (status IN ('OPEN', 'RESOLVED')),
    CONSTRAINT markets_opening_check CHECK (opening_probability >= 0 AND opening_probability <= 1),
    CONSTRAINT markets_b_check       CHECK (b > 0),
    CONSTRAINT markets_price_check   CHECK (price_yes >= 0 AND price_yes <= 1),
    CONSTRAINT markets_outcome_check CHECK (resolved_outcome IS NULL OR resolved_outcome IN ('Approved', 'Rejected')),
    CONSTRAINT markets_resolved_state_check CHECK (
        (status = 'OPEN' AND resolved_outcome IS NULL AND resolved_at IS NULL)
        OR
        (status = 'RESOLVED' AND resolved_outcome IS NOT NULL AND resolved_at IS NOT NULL)
    )
);
CREATE UNIQUE INDEX IF NOT EXISTS markets_event_idx  ON markets(event_id);
CREATE INDEX        IF NOT EXISTS markets_status_idx ON markets(status);

CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    model_id      TEXT NOT NULL,
    starting_cash REAL NOT NULL,
    cash_balance  REAL NOT NULL,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    CONSTRAINT accounts_starting_check CHECK (starting_cash >= 0),
    CONSTRAINT accounts_balance_check  CHECK (cash_balance >= 0)
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_model_idx ON accounts(model_id);

CREATE TABLE IF NOT EXISTS positions (
    id         TEXT PRIMARY KEY,
    market_id  TEXT NOT NULL REFERENCES markets(id),
    model_id   TEXT NOT NULL,
    yes_shares REAL NOT NULL DEFAULT 0,
    no_shares  REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    CONSTRAINT positions_yes_check CHECK (yes_shares >= 0),
    CONSTRAINT positions_no_check  CHECK (no_shares >= 0)
);
CREATE UNIQUE INDEX IF NOT EXISTS positions_market_model_idx ON positions(market_id, model_id);
CREATE INDEX        IF NOT EXISTS positions_model_idx        ON positions(model_id);

CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    run_date       TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'running',
    open_markets   INTEGER NOT NULL DEFAULT 0,
    total_actions  INTEGER NOT NULL DEFAULT 0,
    processed      INTEGER NOT NULL DEFAULT 0,
    ok_count       INTEGER NOT NULL DEFAULT 0,
    error_count    INTEGER NOT NULL DEFAULT 0,
    skipped_count  INTEGER NOT NULL DEFAULT 0,
    failure_reason TEXT,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL,
    completed_at   TEXT,
    CONSTRAINT runs_status_check    CHECK (status IN ('running', 'completed', 'failed')),
    CONSTRAINT runs_counts_check    CHECK (
        open_markets >= 0 AND total_actions >= 0
        AND processed >= 0 AND processed <= total_actions
        AND ok_count >= 0 AND error_count >= 0 AND skipped_count >= 0
        AND ok_count + error_count + skipped_count <= processed
    )
);
CREATE UNIQUE INDEX IF NOT EXISTS runs_date_idx   ON runs(run_date);
CREATE INDEX        IF NOT EXISTS runs_status_idx ON runs(status);

CREATE TABLE IF NOT EXISTS actions (
    id           TEXT PRIMARY KEY,
    run_id       TEXT REFERENCES runs(id),
    market_id    TEXT NOT NULL REFERENCES markets(id),
    event_id     TEXT NOT NULL REFERENCES events(id),
    model_id     TEXT NOT NULL,
    run_date     TEXT NOT NULL,
    action       TEXT NOT NULL,
    usd_amount   REAL NOT NULL DEFAULT 0,
    shares_delta REAL NOT NULL DEFAULT 0,
    price_before REAL NOT NULL,
    price_after  REAL NOT NULL,
    explanation  TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'ok',
    error_code   TEXT,
    error_detail TEXT,
    created_at   TEXT NOT NULL,
    CONSTRAINT actions_action_check CHECK (action IN ('BUY_YES', 'BUY_NO', 'SELL_YES', 'SELL_NO', 'HOLD')),
    CONSTRAINT actions_status_check CHECK (status IN ('ok', 'error', 'skipped')),
    CONSTRAINT actions_amount_check CHECK (usd_amount >= 0),
    CONSTRAINT actions_price_check  CHECK (
        price_before >= 0 AND price_before <= 1 AND price_after >= 0 AND price_after <= 1
    ),
    CONSTRAINT actions_direction_check CHECK (
        (action IN ('BUY_YES', 'BUY_NO') AND shares_delta >= 0)
        OR
        (action IN ('SELL_YES', 'SELL_NO') AND shares_delta <= 0)
        OR
        (action = 'HOLD' AND shares_delta = 0 AND usd_amount = 0)
    )
);
CREATE UNIQUE INDEX IF NOT EXISTS actions_market_model_date_idx ON actions(market_id, model_id, run_date);
CREATE INDEX        IF NOT EXISTS actions_run_idx    ON actions(run_id);
CREATE INDEX        IF NOT EXISTS actions_status_idx ON actions(status);

CREATE TABLE IF NOT EXISTS price_snapshots (
    id            TEXT PRIMARY KEY,
    market_id     TEXT NOT NULL REFERENCES markets(id),
    snapshot_date TEXT NOT NULL,
    price_yes     REAL NOT NULL,
    q_yes         REAL NOT NULL,
    q_no          REAL NOT NULL,
    created_at    TEXT NOT NULL,
    CONSTRAINT price_snapshots_price_check CHECK (price_yes >= 0 AND price_yes <= 1)
);
CREATE UNIQUE INDEX IF NOT EXISTS price_snapshots_market_date_idx ON price_snapshots(market_id, snapshot_date);

CREATE TABLE IF NOT EXISTS equity_snapshots (
    id              TEXT PRIMARY KEY,
    model_id        TEXT NOT NULL,
    snapshot_date   TEXT NOT NULL,
    cash_balance    REAL NOT NULL,
    positions_value REAL NOT NULL,
    total_equity    REAL NOT NULL,
    created_at      TEXT NOT NULL,
    CONSTRAINT equity_snapshots_cash_check      CHECK (cash_balance >= 0),
    CONSTRAINT equity_snapshots_positions_check CHECK (positions_value >= 0),
    CONSTRAINT equity_snapshots_total_check     CHECK (total_equity >= 0)
);
CREATE UNIQUE INDEX IF NOT EXISTS equity_snapshots_model_date_idx ON equity_snapshots(model_id, snapshot_date);

CREATE TABLE IF NOT EXISTS runtime_config (
    id                       TEXT PRIMARY KEY,
    warmup_run_count         INTEGER NOT NULL DEFAULT 3,
    warmup_max_trade_usd     REAL NOT NULL DEFAULT 1000,
    warmup_buy_cash_fraction REAL NOT NULL DEFAULT 0.02,
    opening_lmsr_b           REAL NOT NULL DEFAULT 100000,
    created_at               TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at               TEXT NOT NULL DEFAULT (datetime('now')),
    CONSTRAINT runtime_config_warmup_runs_check     CHECK (warmup_run_count >= 0 AND warmup_run_count <= 365),
    CONSTRAINT runtime_config_warmup_trade_check    CHECK (warmup_max_trade_usd >= 0 AND warmup_max_trade_usd <= 10000000),
    CONSTRAINT runtime_config_warmup_fraction_check CHECK (warmup_buy_cash_fraction >= 0 AND warmup_buy_cash_fraction <= 1),
    CONSTRAINT runtime_config_b_check               CHECK (opening_lmsr_b > 0 AND opening_lmsr_b <= 10000000)
);
INSERT OR IGNORE INTO runtime_config (id) VALUES ('default');
`
