package hooking

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteBackend is a TracerBackend that stores tasks, their steps, and their
// tags into a SQLite database file.
type SQLiteBackend struct {
	*sql.DB

	dbName    string
	batchSize int
	buffered  []task

	taskStmt *sql.Stmt
	stepStmt *sql.Stmt
	tagStmt  *sql.Stmt
}

// NewSQLiteBackend creates a SQLiteBackend writing to path + ".sqlite3". If
// path is empty a unique name is generated. It panics if the file exists.
func NewSQLiteBackend(path string) *SQLiteBackend {
	b := &SQLiteBackend{
		dbName:    path,
		batchSize: 10000,
	}

	b.init()

	atexit.Register(func() { b.Flush() })

	return b
}

// FileName returns the name of the database file.
func (b *SQLiteBackend) FileName() string {
	return b.dbName + ".sqlite3"
}

func (b *SQLiteBackend) init() {
	if b.dbName == "" {
		b.dbName = "hybridmem_trace_" + xid.New().String()
	}

	filename := b.FileName()

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	db.SetMaxOpenConns(1)
	b.DB = db

	b.createTables()
	b.prepareStatements()
}

func (b *SQLiteBackend) createTables() {
	b.mustExecute(`
		create table trace
		(
			task_id    varchar(200) not null,
			parent_id  varchar(200),
			kind       varchar(100),
			what       varchar(100),
			location   varchar(100),
			start_time float        not null,
			end_time   float        default 0
		);
	`)
	b.mustExecute(`create index trace_task_id_index on trace (task_id);`)
	b.mustExecute(`create index trace_kind_index on trace (kind);`)
	b.mustExecute(`create index trace_location_index on trace (location);`)

	b.mustExecute(`
		create table step
		(
			task_id varchar(200) not null,
			step_id varchar(200),
			kind    varchar(100),
			what    varchar(100),
			detail  varchar(200),
			time    float not null
		);
	`)
	b.mustExecute(`create index step_task_id_index on step (task_id);`)

	b.mustExecute(`
		create table tag
		(
			task_id varchar(200) not null,
			what    varchar(100),
			detail  varchar(200)
		);
	`)
}

func (b *SQLiteBackend) prepareStatements() {
	b.taskStmt = b.mustPrepare(`INSERT INTO trace VALUES (?, ?, ?, ?, ?, ?, ?)`)
	b.stepStmt = b.mustPrepare(`INSERT INTO step VALUES (?, ?, ?, ?, ?, ?)`)
	b.tagStmt = b.mustPrepare(`INSERT INTO tag VALUES (?, ?, ?)`)
}

// Write buffers a task and flushes when the buffer is full.
func (b *SQLiteBackend) Write(t task) {
	b.buffered = append(b.buffered, t)

	if len(b.buffered) >= b.batchSize {
		b.Flush()
	}
}

// Flush writes all the buffered tasks to the database in one transaction.
func (b *SQLiteBackend) Flush() {
	if len(b.buffered) == 0 {
		return
	}

	tx, err := b.Begin()
	if err != nil {
		panic(err)
	}

	taskStmt := tx.Stmt(b.taskStmt)
	stepStmt := tx.Stmt(b.stepStmt)
	tagStmt := tx.Stmt(b.tagStmt)

	for _, t := range b.buffered {
		b.mustExec(taskStmt,
			t.ID, t.ParentID, t.Kind, t.What, t.Where, t.StartTime, t.EndTime)

		for _, s := range t.Steps {
			b.mustExec(stepStmt, t.ID, s.ID, s.Kind, s.What, s.Detail, s.Time)
		}

		for _, tg := range t.Tags {
			b.mustExec(tagStmt, t.ID, tg.What, tg.Detail)
		}
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	b.buffered = nil
}

func (b *SQLiteBackend) mustExec(stmt *sql.Stmt, args ...any) {
	_, err := stmt.Exec(args...)
	if err != nil {
		panic(fmt.Errorf("trace insert failed: %w", err))
	}
}

func (b *SQLiteBackend) mustExecute(query string) sql.Result {
	res, err := b.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (b *SQLiteBackend) mustPrepare(query string) *sql.Stmt {
	stmt, err := b.Prepare(query)
	if err != nil {
		panic(err)
	}

	return stmt
}
