// Command migrate applies the SQL files under migrations/ to the database
// configured through the DB_* variables.
//
//	migrate up | down [N] | goto V | force V | status
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/ManuelReschke/OrderHook/internal/pkg/database"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type command struct {
	args string
	help string
	run  func(m *migrate.Migrate, args []string) error
}

var commands = map[string]command{
	"up": {
		help: "apply every pending migration",
		run: func(m *migrate.Migrate, _ []string) error {
			return m.Up()
		},
	},
	"down": {
		args: "[N]",
		help: "roll back the last N migrations (default 1)",
		run: func(m *migrate.Migrate, args []string) error {
			steps := 1
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return m.Steps(-steps)
		},
	},
	"goto": {
		args: "V",
		help: "migrate up or down to version V",
		run: func(m *migrate.Migrate, args []string) error {
			v, err := versionArg(args)
			if err != nil {
				return err
			}
			return m.Migrate(v)
		},
	},
	"force": {
		args: "V",
		help: "set version V and clear the dirty flag without running SQL",
		run: func(m *migrate.Migrate, args []string) error {
			v, err := versionArg(args)
			if err != nil {
				return err
			}
			return m.Force(int(v))
		},
	},
	"status": {
		help: "print the current version",
		run: func(m *migrate.Migrate, _ []string) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("[Migrate] no migration applied yet")
				return nil
			}
			if err != nil {
				return err
			}
			log.Infof("[Migrate] version %d dirty=%t", v, dirty)
			return nil
		},
	},
}

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	source := "file://" + env.GetEnv("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New(source, "mysql://"+database.DSN()+"&multiStatements=true")
	if err != nil {
		log.Fatalf("[Migrate] open %s: %v", source, err)
	}

	err = cmd.run(m, os.Args[2:])
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		log.Warnf("[Migrate] close: source=%v db=%v", srcErr, dbErr)
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Infof("[Migrate] %s: nothing to do", name)
	case err != nil:
		log.Errorf("[Migrate] %s: %v", name, err)
		os.Exit(1)
	default:
		log.Infof("[Migrate] %s: done", name)
	}
}

func versionArg(args []string) (uint, error) {
	if len(args) == 0 {
		return 0, errors.New("version is required")
	}
	v, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", args[0])
	}
	return uint(v), nil
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "usage: migrate <command>")
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-6s %-4s %s\n", name, c.args, c.help)
	}
}
