package elfld

import (
	"fmt"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objfile"
)

// resolveArchives implements §4.9 Phase 3 for the ELF branch: iterate
// while undefined-but-referenced symbols remain, loading any matching
// archive member (an ELF `.o`) not already loaded, until a full pass
// loads nothing new.
func resolveArchives(l *link.Linker, archives []*archive.Archive) error {
	for {
		undef := l.UndefinedReferenced()
		if len(undef) == 0 {
			return nil
		}

		loadedAny := false
		for _, name := range undef {
			for _, ar := range archives {
				m, ok := ar.Lookup(name)
				if !ok {
					continue
				}
				key := fmt.Sprintf("%s#%d", ar.Path, m.Offset)
				if l.LoadedMembers[key] {
					continue
				}
				obj, err := objfile.ParseELF(fmt.Sprintf("%s(%s)", ar.Path, m.Name), m.Data)
				if err != nil {
					return err
				}
				if err := l.IngestObject(obj); err != nil {
					return err
				}
				l.LoadedMembers[key] = true
				loadedAny = true
			}
		}
		if !loadedAny {
			return nil // remaining undefined symbols fall to Phase 4 (dynamic) or are reported later
		}
	}
}
