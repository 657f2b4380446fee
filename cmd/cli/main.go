package main

import (
	"os"
	"strings"

	"github.com/nimasrn/outreach-engine/internal/config"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/pg"
)

// main.go --env=.env --dir=./migrations [--status]
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
		SSLMode:  config.Get().PostgresSSLMode,
	}

	dir := getMigrationPath()
	if dir == "" {
		os.Exit(1)
	}

	if hasFlag("--status") {
		err = pg.Status(pgConf, dir)
	} else {
		err = pg.Migrate(pgConf, dir)
	}
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func hasFlag(name string) bool {
	for _, v := range os.Args[1:] {
		if v == name {
			return true
		}
	}
	return false
}

func argValue(name string) (string, bool) {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, name+"=") {
			return strings.TrimPrefix(v, name+"="), true
		}
	}
	return "", false
}

func getEnvPath() string {
	path, ok := argValue("--env")
	if !ok {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if ok {
			logger.Error("failed to open the passed env file", "path", path, "error", err)
		}
		return ""
	}
	return path
}

func getMigrationPath() string {
	path, ok := argValue("--dir")
	if !ok {
		path = "./migrations"
	}
	if _, err := os.Stat(path); err != nil {
		logger.Error("failed to open the migrations directory", "path", path, "error", err)
		return ""
	}
	return path
}
