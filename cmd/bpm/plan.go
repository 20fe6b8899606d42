package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/dstask/bpm/bpmlog"
	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/collect"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/order"
	"github.com/dstask/bpm/pkgver"
	"github.com/dstask/bpm/planio"
	"github.com/dstask/bpm/postpone"
	"github.com/dstask/bpm/refine"
	"github.com/dstask/bpm/store"
)

// planCommand refines a single package selection against an in-memory
// store and prints the resulting plan -- the minimal end-to-end exercise
// of collect+order+refine this front-end offers. A real deployment would
// swap store.Memory's repository/system-version/prerequisite sides for
// backends talking to a real repository and system package manager, while
// keeping store.FS for the persisted selected-package side; both are left
// to the caller's store.PackageStore/RepositoryQuery/etc. implementations,
// not to this command.
type planCommand struct {
	db          string
	name        string
	version     string
	holdVersion bool
	checksumOnly bool
}

func (c *planCommand) Name() string      { return "plan" }
func (c *planCommand) ShortHelp() string { return "refine a single package selection and print the plan" }

func (c *planCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.db, "config", "default", "configuration to build into")
	fs.StringVar(&c.name, "name", "", "package name to select (required)")
	fs.StringVar(&c.version, "version", "", "version to select (required)")
	fs.BoolVar(&c.holdVersion, "hold-version", false, "pin the selection's version")
	fs.BoolVar(&c.checksumOnly, "checksum-only", false, "print only the plan checksum")
}

func (c *planCommand) Run(stdout, stderr io.Writer, verbose bool) error {
	if c.name == "" || c.version == "" {
		return fmt.Errorf("plan: -name and -version are required")
	}
	ver, err := pkgver.Parse(c.version)
	if err != nil {
		return fmt.Errorf("plan: parsing -version: %w", err)
	}

	log := bpmlog.New(stderr, verbose)

	cfgID := linkcfg.ID(c.db)
	graph := linkcfg.NewGraph()
	if err := graph.Add(linkcfg.Configuration{ID: cfgID, Kind: linkcfg.Target, Current: true}); err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	mem := store.NewMemory(graph)
	m := buildpkg.NewMap()
	st := postpone.NewState()
	eval := store.NewSimpleEvaluator()

	co := collect.NewCollector(context.Background(), m, st, graph, mem, mem, mem, mem, mem, eval)
	defer co.Close()
	ord := order.New(m, eval)
	drv := refine.NewDriver(co, ord, mem, log)

	key := buildpkg.Key{Config: cfgID, Name: pkgver.Name(c.name)}
	req := refine.Request{}
	avail := &catalog.Available{Name: pkgver.Name(c.name), Version: ver}
	if c.holdVersion {
		req.Pins = []refine.Pin{{Key: key, Candidate: collect.BuildCandidate{Available: avail}, HoldVersion: true}}
	} else {
		req.Selections = []refine.Selection{{Key: key, Candidate: collect.BuildCandidate{Available: avail}}}
	}

	res, err := drv.Refine(context.Background(), req)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	rendered := planio.Render(res.Plan)
	if c.checksumOnly {
		fmt.Fprintf(stdout, "%x\n", rendered.Checksum)
		return nil
	}
	fmt.Fprint(stdout, rendered.Text)
	fmt.Fprintf(stdout, "checksum: %x\n", rendered.Checksum)
	return nil
}
