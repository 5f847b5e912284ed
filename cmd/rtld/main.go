// Command rtld is the linker driver: it ingests relocatable objects and
// archives, synthesizes an entry stub, resolves references (against
// archives, or — for PE — the built-in DLL fallback table), and emits a
// finished ELF or PE executable. It does not implement diagnostics
// rendering or codegen; those remain external collaborators per spec.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/link/elfld"
	"github.com/tinyrange/rtgc/internal/link/pelink"
	"github.com/tinyrange/rtgc/internal/objfile"
)

func main() {
	var (
		output string
		entry  string
		target string
	)

	rootCmd := &cobra.Command{
		Use:   "rtld [objects/archives...]",
		Short: "Link relocatable objects and archives into an ELF or PE executable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, output, entry, target)
		},
	}
	rootCmd.Flags().StringVarP(&output, "output", "o", "a.out", "Output executable path")
	rootCmd.Flags().StringVar(&entry, "entry", "main", "Entry symbol (PE: \"main\" or \"mainCRTStartup\")")
	rootCmd.Flags().StringVar(&target, "target", "elf", "Target format: elf or pe")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtld:", err)
		os.Exit(1)
	}
}

func run(paths []string, output, entry, target string) error {
	var objs []*objfile.Object
	var archives []*archive.Archive

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if archive.IsArchive(data) {
			ar, err := archive.Parse(path, data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			archives = append(archives, ar)
			continue
		}
		obj, err := objfile.Parse(path, data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		objs = append(objs, obj)
	}

	var warnings []string
	var err error
	switch target {
	case "elf":
		warnings, err = elfld.LinkToFile(output, objs, elfld.Options{Entry: entry, Archives: archives})
	case "pe":
		warnings, err = pelink.LinkToFile(output, objs, pelink.Options{Entry: entry, Archives: archives})
	default:
		return fmt.Errorf("unknown target %q: want elf or pe", target)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "rtld: warning:", w)
	}
	if err != nil {
		return err
	}
	fmt.Printf("rtld: wrote %s\n", output)
	return nil
}
