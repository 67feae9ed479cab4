package cli

import (
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/scenestore/datastore"
	"go.viam.com/scenestore/session"
)

// ListAction is the corresponding Action for 'ls'.
func ListAction(c *cli.Context) error {
	return withClient(c, listAction)
}

func listAction(c *cli.Context, sc *sceneClient) error {
	dir, err := singleArg(c, "path")
	if err != nil {
		return err
	}
	ctx := c.Context
	names, err := sc.store.ListDirectory(ctx, dir)
	if err != nil {
		return errors.Wrapf(err, "could not list %q", dir)
	}
	if !c.Bool(lsFlagLong) {
		for _, name := range names {
			printf(sc.out(), "%s", name)
		}
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(sc.out())
	t.AppendHeader(table.Row{"Name", "Type", "Size", "Modified"})
	for _, name := range names {
		info, err := sc.store.Stat(ctx, sc.store.Join(dir, name))
		if err != nil {
			warningf(sc.errOut(), "could not stat %q: %v", name, err)
			continue
		}
		kind := "file"
		if info.IsDir() {
			kind = "dir"
		}
		t.AppendRow(table.Row{name, kind, units.HumanSize(float64(info.Size())), info.ModTime().UTC().Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

// MakeDirectoryAction is the corresponding Action for 'mkdir'.
func MakeDirectoryAction(c *cli.Context) error {
	return withClient(c, func(c *cli.Context, sc *sceneClient) error {
		if c.NArg() == 0 {
			return errors.New("expected at least one path")
		}
		for _, dir := range c.Args().Slice() {
			if err := sc.store.MakeDirectory(c.Context, dir); err != nil {
				return err
			}
		}
		return nil
	})
}

// CopyAction is the corresponding Action for 'cp'.
func CopyAction(c *cli.Context) error {
	return withClient(c, func(c *cli.Context, sc *sceneClient) error {
		if c.NArg() != 2 {
			return errors.New("expected <src> <dst>")
		}
		src, dst := c.Args().Get(0), c.Args().Get(1)
		// Failed copies are logged by the store.
		sc.store.CopyFile(c.Context, src, dst)
		return nil
	})
}

// ExecAction is the corresponding Action for 'exec'.
func ExecAction(c *cli.Context) error {
	return withClient(c, execAction)
}

func execAction(c *cli.Context, sc *sceneClient) error {
	if c.NArg() == 0 {
		return errors.New("expected a command")
	}
	res, err := sc.store.Exec(c.Context, strings.Join(c.Args().Slice(), " "))
	if errors.Is(err, datastore.ErrNotRemote) {
		return errors.New("exec needs --remote")
	}
	if res != nil {
		for _, line := range res.Stdout {
			printf(sc.out(), "%s", line)
		}
		for _, line := range res.Stderr {
			printf(sc.errOut(), "%s", line)
		}
	}
	var cmdErr *session.CommandError
	if errors.As(err, &cmdErr) {
		return cli.Exit("", cmdErr.ExitStatus)
	}
	return err
}

func singleArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("expected a single <%s> argument", name)
	}
	return c.Args().First(), nil
}
