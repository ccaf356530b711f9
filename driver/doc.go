// Package driver implements a database/sql/driver on top of the dbapi
// package, so that Go code can use the standard *sql.DB against any
// native.API implementation.
//
// Usage:
//
//  1. Import the driver package. This will register the driver with the name "fbdriver".
//     import _ "github.com/tomyedwab/fbdriver/driver"
//
// 2. Before opening a database with sql.Open, install the client library the
// driver talks to:
//
//	driver.SetNativeAPI(loopback.New(loopback.Options{}))
//
//  3. Open a database using a DSN of the form
//     [user[:password]@]path[?charset=UTF8&role=NAME&dialect=3&timezone=UTC]:
//     db, err := sql.Open("fbdriver", "sysdba:masterkey@/data/app.fdb?charset=UTF8")
//     if err != nil {
//     // handle error
//     }
//     defer db.Close()
//
// Alternatively build a connector directly, which needs no global state:
//
//	db := sql.OpenDB(driver.NewConnector(api, dbapi.Config{Database: path}))
//
// Transactions:
//
// Statements executed outside an explicit transaction auto-commit: DML when
// Exec returns, queries when their Rows are closed. BeginTx maps
// sql.LevelSnapshot and sql.LevelRepeatableRead to snapshot isolation,
// sql.LevelSerializable to table-stability isolation and the read-committed
// levels to read committed with record versions.
//
// Implemented Interfaces:
//
// The driver implements the following `database/sql/driver` interfaces:
// - driver.Driver, driver.DriverContext, driver.Connector
// - driver.Conn, driver.ConnBeginTx, driver.ConnPrepareContext, driver.Pinger,
// driver.Validator, driver.NamedValueChecker
// - driver.Stmt, driver.StmtExecContext, driver.StmtQueryContext
// - driver.Tx
// - driver.Result
// - driver.Rows plus the column type metadata interfaces
//
// Limitations:
//
//   - Parameters are positional; named parameters are rejected.
//   - Context cancellation is checked before each call but cannot interrupt
//     a call already handed to the client library.
//   - Fixed-point values are returned as decimal strings and ARRAY columns as
//     nested []any values.
package driver
