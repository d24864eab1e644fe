package layout

import (
	"strings"
	"unicode/utf16"

	"github.com/kdsys/isoimage/option"
)

// translateECMA119Name implements spec.md §4.3.1.b's "ECMA-119 d-characters
// upper-case 8.3 with optional relaxations", generalizing the teacher's
// sanitizeISO9660Name to the option bits spec.md §6.3 names. Bit-exact
// character-set fidelity is explicitly out of scope (spec.md §1); this
// produces a d-character-safe, collision-resistant name.
func translateECMA119Name(name string, isDir bool, opts *option.Options) string {
	allowed := func(r rune) bool {
		switch {
		case r >= 'A' && r <= 'Z':
			return true
		case r >= '0' && r <= '9', r == '_':
			return true
		case r >= 'a' && r <= 'z':
			return opts.AllowLowercase
		case opts.AllowFullASCII || opts.Allow7BitASCII:
			return r >= 0x20 && r < 0x7f
		default:
			return false
		}
	}
	clean := func(s string, max int) string {
		var b strings.Builder
		for _, r := range s {
			if !opts.AllowLowercase && r >= 'a' && r <= 'z' {
				r = r - 'a' + 'A'
			}
			if allowed(r) {
				b.WriteRune(r)
			} else if r != '.' {
				b.WriteRune('_')
			}
		}
		out := b.String()
		if len(out) > max {
			out = out[:max]
		}
		return out
	}

	maxBase, maxExt, maxTotal := 8, 3, 11
	if opts.ISOLevel >= 2 {
		maxTotal = 30
		maxBase, maxExt = 27, 3
	}
	if opts.Max37CharFilenames {
		maxTotal = 37
		maxBase = 33
	}
	if opts.AllowLongerPaths {
		maxTotal = 255
		maxBase = 251
	}

	if isDir {
		d := clean(name, maxTotal)
		if d == "" {
			d = "DIR"
		}
		return d
	}

	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = clean(base, maxBase)
	ext = clean(ext, maxExt)
	if base == "" {
		base = "FILE"
	}
	out := base
	if ext != "" {
		out += "." + ext
	} else if !opts.NoForceDots {
		out += "."
	}
	if !opts.OmitVersionNumbers {
		out += ";1"
	}
	return out
}

// translateJolietName implements the Joliet UCS-2BE length cap (spec.md
// §4.3.1.b: ≤64 code units, or ≤103 with joliet_long_names/joliet_longer_paths).
func translateJolietName(name string, opts *option.Options) string {
	max := 64
	if opts.JolietLongNames || opts.JolietLongerPaths {
		max = 103
	}
	u := utf16.Encode([]rune(name))
	if len(u) > max {
		u = u[:max]
	}
	return string(utf16.Decode(u))
}

// translateISO1999Name implements ISO 9660:1999's relaxed ≤207-character
// identifiers (spec.md §4.3.1.b).
func translateISO1999Name(name string, isDir bool, opts *option.Options) string {
	const max = 207
	var b strings.Builder
	for _, r := range name {
		if r == 0 {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	if out == "" {
		if isDir {
			out = "dir"
		} else {
			out = "file"
		}
	}
	if !isDir && !opts.OmitVersionNumbers {
		out += ";1"
	}
	return out
}
