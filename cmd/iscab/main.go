package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/isetools/iscab"
	"github.com/jessevdk/go-flags"
	"github.com/schollz/progressbar/v3"
)

var opts struct {
	List    listCommand    `command:"list" alias:"ls" description:"list the files in an InstallShield cabinet"`
	Extract extractCommand `command:"extract" alias:"x" description:"extract files from an InstallShield cabinet"`
}

func main() {
	log.SetFlags(0)

	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		if !flags.WroteHelp(err) {
			os.Exit(1)
		}
	}
}

type listCommand struct {
	JSON bool `long:"json" description:"print the listing as JSON"`
	Args struct {
		Cabinet flags.Filename `positional-arg-name:"cabinet" description:"path to any volume of the cabinet (e.g. data1.cab)" required:"yes"`
	} `positional-args:"yes"`
}

func (c *listCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	cab, err := iscab.Open(string(c.Args.Cabinet))
	if err != nil {
		return err
	}
	defer cab.Close()

	members := cab.List()
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(members)
	}

	var total uint64
	for _, m := range members {
		mode := "stored"
		switch {
		case m.Obfuscated:
			mode = "obfuscated"
		case m.Compressed:
			mode = "deflate"
		}
		fmt.Printf("%10s  vol %d  %-10s  %s\n", humanize.Bytes(uint64(m.UncompressedSize)), m.Volume, mode, m.Name)
		total += uint64(m.UncompressedSize)
	}
	fmt.Printf("%d files, %s (cabinet version %d)\n", len(members), humanize.Bytes(total), cab.Version())
	return nil
}

type extractCommand struct {
	Output flags.Filename `short:"o" long:"output" description:"output directory" default:"."`
	Args   struct {
		Cabinet flags.Filename `positional-arg-name:"cabinet" description:"path to any volume of the cabinet" required:"yes"`
		Files   []string       `positional-arg-name:"file" description:"members to extract; all when omitted"`
	} `positional-args:"yes"`
}

func (c *extractCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	cab, err := iscab.Open(string(c.Args.Cabinet))
	if err != nil {
		return err
	}
	defer cab.Close()

	var members []iscab.Member
	if len(c.Args.Files) == 0 {
		members = cab.List()
	} else {
		for _, name := range c.Args.Files {
			m, ok := cab.Member(name)
			if !ok {
				return fmt.Errorf("%q is not in the cabinet", name)
			}
			members = append(members, m)
		}
	}

	var total int64
	for _, m := range members {
		total += int64(m.UncompressedSize)
	}
	bar := progressbar.DefaultBytes(total, "extracting")
	defer func() { _ = bar.Close() }()

	n := len(members)
	for i, m := range members {
		if m.Obfuscated {
			log.Printf("[%d/%d] skipping obfuscated %q", i+1, n, m.Name)
			continue
		}
		if err := c.extractOne(cab, m, bar); err != nil {
			return fmt.Errorf("extract %q: %w", m.Name, err)
		}
	}
	return nil
}

func (c *extractCommand) extractOne(cab *iscab.Cabinet, m iscab.Member, bar *progressbar.ProgressBar) error {
	src, err := cab.OpenStream(m.Name)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	rel := filepath.FromSlash(strings.ReplaceAll(m.Name, `\`, "/"))
	path := filepath.Join(string(c.Output), rel)
	if !strings.HasPrefix(path, filepath.Clean(string(c.Output))+string(os.PathSeparator)) && path != filepath.Clean(string(c.Output)) {
		return fmt.Errorf("member path escapes output directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err = io.Copy(io.MultiWriter(dst, bar), src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
