// Command rtdump inspects relocatable objects and archives, printing
// their sections, symbols, and relocations. It is a thin wrapper over
// internal/objfile and internal/archive — it does not disassemble code
// or render source-level diagnostics.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/objfile"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtdump <file>",
		Short: "Dump sections, symbols, and relocations from an object or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(args[0])
		},
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtdump:", err)
		os.Exit(1)
	}
}

func dump(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if archive.IsArchive(data) {
		ar, err := archive.Parse(path, data)
		if err != nil {
			return err
		}
		return dumpArchive(ar)
	}

	obj, err := objfile.Parse(path, data)
	if err != nil {
		return err
	}
	dumpObject(obj)
	return nil
}

func dumpArchive(ar *archive.Archive) error {
	fmt.Printf("archive %s: %d members\n", ar.Path, len(ar.Members))
	for _, m := range ar.Members {
		if archive.IsShortImport(m.Data) {
			si, err := archive.ParseShortImport(m.Data)
			if err != nil {
				fmt.Printf("  %-20s (malformed import object: %v)\n", m.Name, err)
				continue
			}
			fmt.Printf("  %-20s import %s from %s\n", m.Name, si.Symbol, si.DLL)
			continue
		}
		obj, err := objfile.Parse(m.Name, m.Data)
		if err != nil {
			fmt.Printf("  %-20s (unparsed: %v)\n", m.Name, err)
			continue
		}
		fmt.Printf("  %-20s %d symbols\n", m.Name, len(obj.Symbols))
	}
	return nil
}

func dumpObject(obj *objfile.Object) {
	fmt.Printf("object %s\n", obj.Name)

	fmt.Println("sections:")
	var secNames []string
	for sec := range obj.Sections {
		secNames = append(secNames, sectionName(sec))
	}
	sort.Strings(secNames)
	for _, name := range secNames {
		sec := sectionByName(obj, name)
		fmt.Printf("  %-10s %6d bytes\n", name, len(obj.Sections[sec]))
	}

	fmt.Println("symbols:")
	for _, s := range obj.Symbols {
		bind := "local"
		if s.Bind == objfile.BindGlobal {
			bind = "global"
		} else if s.Bind == objfile.BindWeak {
			bind = "weak"
		}
		if !s.Defined {
			fmt.Printf("  %-20s UNDEF %s\n", s.Name, bind)
			continue
		}
		fmt.Printf("  %-20s %#08x %-10s %s\n", s.Name, s.Value, sectionName(s.Section), bind)
	}

	fmt.Println("relocations:")
	for sec, relocs := range obj.Relocs {
		for _, r := range relocs {
			name := "?"
			if r.SymIndex >= 0 && r.SymIndex < len(obj.Symbols) {
				name = obj.Symbols[r.SymIndex].Name
			}
			fmt.Printf("  %-10s +%#06x type=%d sym=%s addend=%d\n", sectionName(sec), r.Offset, r.Type, name, r.Addend)
		}
	}
}

func sectionName(sec objfile.Section) string {
	switch sec {
	case objfile.SecText:
		return ".text"
	case objfile.SecRodata:
		return ".rodata"
	case objfile.SecData:
		return ".data"
	case objfile.SecBss:
		return ".bss"
	case objfile.SecUndef:
		return "undef"
	default:
		return fmt.Sprintf("sec%d", sec)
	}
}

func sectionByName(obj *objfile.Object, name string) objfile.Section {
	for sec := range obj.Sections {
		if sectionName(sec) == name {
			return sec
		}
	}
	return objfile.SecUndef
}
