package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trezcool/darasa/core/school"
)

var errHelp = errors.New("help provided")

// seedRepository is what the seed command needs on top of the regular
// school repository.
type seedRepository interface {
	school.Repository
	CreateCourse(ctx context.Context, crs school.Course) (school.Course, error)
}

type commandLine struct {
	db         *sql.DB
	schoolRepo seedRepository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [args] - run a goose migration command (up, down, status, ...)")
	fmt.Println("  seed                   - load the demo courses and students")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seed":
		return cli.seed(context.Background())
	default:
		cli.printUsage()
		return errHelp
	}
}
