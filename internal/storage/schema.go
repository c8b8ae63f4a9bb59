package storage

const schema = `
-- The 'sources' table tracks the origin of the cards, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned TEXT
);

-- The 'cards' table stores each fact together with its memory state.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash TEXT NOT NULL UNIQUE,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    stability REAL NOT NULL DEFAULT 0.1,
    difficulty REAL NOT NULL DEFAULT 0.3,
    state INTEGER NOT NULL DEFAULT 1, -- 1: Learning, 2: Review, 3: Relearning
    due TEXT NOT NULL,
    interval_days INTEGER NOT NULL DEFAULT 1,
    lapses INTEGER NOT NULL DEFAULT 0,
    last_review TEXT NOT NULL DEFAULT '',
    favorite INTEGER NOT NULL DEFAULT 0,
    known INTEGER NOT NULL DEFAULT 0,
    source_id INTEGER,
    created_at TEXT NOT NULL,

    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due);

-- The 'profiles' table holds XP, level, lifetime counters and streaks.
CREATE TABLE IF NOT EXISTS profiles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
    level INTEGER NOT NULL DEFAULT 1 CHECK (level BETWEEN 1 AND 100),
    reviews INTEGER NOT NULL DEFAULT 0,
    favorites INTEGER NOT NULL DEFAULT 0,
    known INTEGER NOT NULL DEFAULT 0,
    adds INTEGER NOT NULL DEFAULT 0,
    edits INTEGER NOT NULL DEFAULT 0,
    deletes INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_checkin_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    profile_id INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    duration_seconds REAL NOT NULL DEFAULT 0,
    timed_out INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(profile_id) REFERENCES profiles(id)
);

-- One row per item shown or action taken. card_id is not a foreign key so
-- history survives card deletion.
CREATE TABLE IF NOT EXISTS review_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    profile_id INTEGER NOT NULL,
    card_id INTEGER,
    session_id TEXT,
    action TEXT NOT NULL,
    rating INTEGER,
    occurred_at TEXT NOT NULL,
    local_date TEXT NOT NULL,
    elapsed_seconds REAL,
    finalized INTEGER NOT NULL DEFAULT 0,
    timed_out INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(profile_id) REFERENCES profiles(id)
);
CREATE INDEX IF NOT EXISTS idx_review_events_profile_date ON review_events(profile_id, local_date);
CREATE INDEX IF NOT EXISTS idx_review_events_session ON review_events(session_id);

CREATE TABLE IF NOT EXISTS achievements (
    code TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    threshold INTEGER NOT NULL,
    reward_xp INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT ''
);

-- Unlocks are append-only; the primary key makes them at-most-once.
CREATE TABLE IF NOT EXISTS achievement_unlocks (
    profile_id INTEGER NOT NULL,
    code TEXT NOT NULL,
    unlocked_at TEXT NOT NULL,

    PRIMARY KEY (profile_id, code),
    FOREIGN KEY(profile_id) REFERENCES profiles(id),
    FOREIGN KEY(code) REFERENCES achievements(code)
);
`
