// Package version хранит метаданные сборки, которые задаются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/returns/internal/version.version=v1.2.0
package version

import "fmt"

// Service — имя сервиса в логах и health-ответах.
const Service = "returns-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}
