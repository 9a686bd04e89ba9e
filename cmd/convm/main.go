// Command convm loads Ultima Underworld conversation archives, disassembles
// them, plays them on the terminal and serves the conversation debugger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/game"
	"github.com/chazu/convm/globals"
	"github.com/chazu/convm/manifest"
	"github.com/chazu/convm/server"
	"github.com/chazu/convm/vm"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var logger = commonlog.GetLogger("convm")

func main() {
	dir := flag.String("dir", ".", "Directory to search for convm.toml (walks up parents)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	list := flag.Bool("list", false, "List the archive's conversations")
	disasm := flag.Int("d", -1, "Disassemble the conversation in this slot")
	dumpStrings := flag.Bool("strings", false, "Write the string table as TOML to stdout")
	interactive := flag.Bool("i", false, "Play a conversation on the terminal (needs -slot)")
	slot := flag.Int("slot", -1, "Conversation slot to play")
	level := flag.Int("level", 1, "Dungeon level of the NPC")
	objPos := flag.Uint("npc", 0, "Object position of the NPC")
	name := flag.String("name", "Avatar", "Player name")
	female := flag.Bool("female", false, "Play a female avatar")
	profile := flag.Bool("profile", false, "Print an instruction profile after -i")
	serveMode := flag.Bool("serve", false, "Start the conversation debug server")
	listen := flag.String("listen", "", "Debug server address (overrides [debug] listen)")
	ttl := flag.Duration("session-ttl", 30*time.Minute, "Idle time before a served conversation is aborted")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: convm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs Ultima Underworld conversations from cnv.ark.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  convm -list              # List conversations\n")
		fmt.Fprintf(os.Stderr, "  convm -d 1               # Disassemble slot 1\n")
		fmt.Fprintf(os.Stderr, "  convm -i -slot 1         # Talk to the NPC in slot 1\n")
		fmt.Fprintf(os.Stderr, "  convm -serve             # Serve the debugger on [debug] listen\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(*dir)
	}

	v := m.Log.Verbosity
	if *verbosity >= 0 {
		v = *verbosity
	}
	var logPath *string
	if m.Log.File != "" {
		logPath = &m.Log.File
	}
	commonlog.Configure(v, logPath)

	if *dumpStrings {
		strs, err := game.LoadStrings(m.StringsPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := strs.Encode(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	gender := vm.Male
	if *female {
		gender = vm.Female
	}
	lib, err := openLibrary(m, game.NewState(*name, gender))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if lib.Store != nil {
		defer lib.Store.Close()
	}

	switch {
	case *list:
		listSlots(lib)

	case *disasm >= 0:
		s, strs, err := lib.Open(*disasm)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := vm.Disassemble(os.Stdout, s, strs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case *serveMode:
		addr := m.Debug.Listen
		if *listen != "" {
			addr = *listen
		}
		srv := server.New(lib, server.WithSessionTTL(*ttl))
		defer srv.Stop()
		if err := srv.ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}

	case *interactive:
		if *slot < 0 {
			fmt.Fprintf(os.Stderr, "Error: -i needs -slot\n")
			os.Exit(1)
		}
		npc := vm.NPC{Level: *level, ObjectPos: uint16(*objPos)}
		var prof *vm.Profiler
		if *profile {
			prof = vm.NewProfiler()
		}
		if err := play(lib, *slot, npc, prof); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := saveGlobals(m, lib); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving globals: %v\n", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// openLibrary loads everything the manifest names. A missing string table
// or globals file is tolerated with a warning.
func openLibrary(m *manifest.Manifest, state *game.State) (*server.Library, error) {
	a, err := ark.Open(m.ArchivePath(), ark.WithFixups(m.FixupsEnabled()))
	if err != nil {
		return nil, err
	}

	strs, err := game.LoadStrings(m.StringsPath())
	if errors.Is(err, os.ErrNotExist) {
		logger.Warningf("no string table at %s", m.StringsPath())
		strs = game.NewStringTable()
	} else if err != nil {
		return nil, err
	}

	lib := &server.Library{
		Archive:    a,
		Strings:    strs,
		Game:       state,
		Seed:       m.VM.Seed,
		StackLimit: m.VM.StackSize,
	}

	if p := m.StorePath(); p != "" {
		if lib.Store, err = globals.OpenSQLStore(p); err != nil {
			return nil, err
		}
		g, err := lib.Store.Load(context.Background(), m.Store.Save)
		switch {
		case err == nil:
			logger.Infof("globals from save %q", m.Store.Save)
			lib.Globals = g
			return lib, nil
		case !errors.Is(err, globals.ErrNoSave):
			lib.Store.Close()
			return nil, err
		}
	}

	path, initial := m.GlobalsPath()
	lib.Globals, err = globals.ReadFile(path, initial)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warningf("no globals file at %s, starting empty", path)
		lib.Globals = globals.New()
	} else if err != nil {
		return nil, err
	}
	return lib, nil
}

// saveGlobals writes the globals back to the saved globals file and, when a
// store is configured, to the manifest's save.
func saveGlobals(m *manifest.Manifest, lib *server.Library) error {
	if err := lib.Globals.WriteFile(m.SavedGlobalsPath()); err != nil {
		return err
	}
	if lib.Store != nil {
		return lib.Store.Save(context.Background(), m.Store.Save, lib.Globals)
	}
	return nil
}

func listSlots(lib *server.Library) {
	for slot := 0; slot < lib.Archive.NumSlots(); slot++ {
		if !lib.Archive.IsAvailable(slot) {
			continue
		}
		s, err := lib.Archive.Load(slot)
		if err != nil {
			fmt.Printf("%4d  error: %v\n", slot, err)
			continue
		}
		fmt.Printf("%4d  strings %04x  %5d words  %3d imports\n",
			slot, s.StringBlock, len(s.Code), len(s.Imports))
	}
}
