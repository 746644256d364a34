// Package env resolves {{variable}} templates in batch files.
//
// A template expression is one of:
//   - a variable name, looked up in the resolver's variables
//   - $NAME, read from the process environment
//   - a builtin call such as uuid() or date("2006-01-02")
//
// Variables come from the batch file itself, .env files and HITBATCH_VAR_*
// environment variables.
package env
