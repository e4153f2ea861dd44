package formula

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/velo-pm/velo/internal/verrors"
)

// ParseError surfaces a parse failure for a named formula.
func ParseError(name, reason string) *verrors.Error {
	return verrors.New(verrors.KindParse, "parse", name, reason)
}

var (
	descRegex     = regexp.MustCompile(`^\s*desc\s+["']([^"']*)["']`)
	homepageRegex = regexp.MustCompile(`^\s*homepage\s+["']([^"']*)["']`)
	urlRegex      = regexp.MustCompile(`^\s*url\s+["']([^"']+)["']`)
	tagRegex      = regexp.MustCompile(`tag:\s*["']([^"']+)["']`)
	sha256Regex   = regexp.MustCompile(`^\s*sha256\s+["']([a-fA-F0-9]{64}|0+)["']`)
	versionRegex  = regexp.MustCompile(`^\s*version\s+["']([^"']+)["']`)
	revisionRegex = regexp.MustCompile(`^\s*revision\s+(\d+)`)

	dependsOnRegex = regexp.MustCompile(`^\s*depends_on\s+["']([^"'@]+)(?:@([^"']+))?["'](.*)$`)
	dependsSymRegex = regexp.MustCompile(`^\s*depends_on\s+:(\w+)`)
	buildSuffixRegex = regexp.MustCompile(`=>\s*:build\b`)
	constraintRegex = regexp.MustCompile(`(>=|<=|==|~>|\^|>|<)?\s*([0-9][\w.+-]*)`)

	bottleSHA256Regex = regexp.MustCompile(`^\s*sha256(?:\s+cellar:\s*[:\w]+,)?\s+(\w+):\s*["']([a-fA-F0-9]{64})["']`)

	blockOpenRegex  = regexp.MustCompile(`^\s*(bottle|head|on_macos|on_linux|on_intel|on_arm|on_bsd\w*|on_system)\b.*\bdo\b\s*$`)
	blockCloseRegex = regexp.MustCompile(`^\s*end\s*$`)

	postInstallOpenRegex = regexp.MustCompile(`^\s*def\s+post_install\s*$`)

	// Version-from-URL regex ladder, tried in order. Each has exactly one
	// capturing group for the version substring.
	urlVersionLadder = []*regexp.Regexp{
		regexp.MustCompile(`-v?(\d+\.\d+\.\d+)\.`),
		regexp.MustCompile(`-v?(\d+\.\d+)\.`),
		regexp.MustCompile(`[_-](\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`[_-](\d{8})`),
		regexp.MustCompile(`-v?(\d+(?:_\d+)+)`),
		regexp.MustCompile(`-r(\d+)\b`),
		regexp.MustCompile(`\.v(\d+[a-z]?)\b`),
		regexp.MustCompile(`/archive/(?:refs/tags/)?v?(\d+(?:\.\d+)*)\.`),
		regexp.MustCompile(`-(\d+)\.(?:tar|zip|tgz)`),
	}
)

// blockKind distinguishes the main formula scope from nested,
// platform-guarded, or bottle/head blocks.
type blockKind int

const (
	blockTop blockKind = iota
	blockBottle
	blockHead
	blockGuarded // on_macos / on_linux / on_bsd* / on_intel / on_arm / on_system
	blockPostInstall
)

// Parse extracts a Formula from Homebrew-formula-shaped Ruby DSL source.
// name is the formula's declared identity (from its file path); it
// becomes the formula's Name field and is used in error messages.
func Parse(name, content string) (*Formula, error) {
	f := &Formula{Name: name}

	lines := strings.Split(content, "\n")

	var stack []blockKind
	current := func() blockKind {
		if len(stack) == 0 {
			return blockTop
		}
		return stack[len(stack)-1]
	}
	inBottleBlock := func() bool {
		for _, k := range stack {
			if k == blockBottle {
				return true
			}
		}
		return false
	}
	inIgnoredBlock := func() bool {
		for _, k := range stack {
			if k == blockHead || k == blockGuarded {
				return true
			}
		}
		return false
	}

	var explicitVersion string
	var tagVersion string
	var revision int
	var postInstallLines []string
	seenBottleBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if current() == blockPostInstall {
			if blockCloseRegex.MatchString(line) {
				stack = stack[:len(stack)-1]
				continue
			}
			postInstallLines = append(postInstallLines, line)
			continue
		}

		if postInstallOpenRegex.MatchString(line) {
			stack = append(stack, blockPostInstall)
			f.HasPostInstall = true
			continue
		}

		if blockOpenRegex.MatchString(trimmed) {
			kw := blockOpenRegex.FindStringSubmatch(trimmed)[1]
			switch kw {
			case "bottle":
				if !seenBottleBlock {
					stack = append(stack, blockBottle)
					seenBottleBlock = true
				} else {
					// Only the first top-level bottle block counts.
					stack = append(stack, blockGuarded)
				}
			case "head":
				stack = append(stack, blockHead)
			default:
				stack = append(stack, blockGuarded)
			}
			continue
		}
		if blockCloseRegex.MatchString(line) && len(stack) > 0 {
			stack = stack[:len(stack)-1]
			continue
		}

		if inIgnoredBlock() {
			continue
		}

		if inBottleBlock() {
			if m := bottleSHA256Regex.FindStringSubmatch(line); m != nil {
				plat := Platform(m[1])
				if _, ok := platformTable[plat]; ok {
					f.Bottles = append(f.Bottles, Bottle{SHA256: strings.ToLower(m[2]), Platform: plat})
				}
				// Unknown platforms are skipped.
			}
			continue
		}

		// Top-level (non-bottle, non-ignored) extraction.
		if f.Description == "" {
			if m := descRegex.FindStringSubmatch(line); m != nil {
				f.Description = m[1]
				continue
			}
		}
		if f.Homepage == "" {
			if m := homepageRegex.FindStringSubmatch(line); m != nil {
				f.Homepage = m[1]
				continue
			}
		}
		if f.SourceURL == "" {
			if m := urlRegex.FindStringSubmatch(line); m != nil {
				f.SourceURL = m[1]
				continue
			}
		}
		if f.SourceSHA256 == "" {
			if m := sha256Regex.FindStringSubmatch(line); m != nil {
				f.SourceSHA256 = strings.ToLower(m[1])
				continue
			}
		}
		if explicitVersion == "" {
			if m := versionRegex.FindStringSubmatch(line); m != nil {
				explicitVersion = m[1]
				continue
			}
		}
		if tagVersion == "" {
			if m := tagRegex.FindStringSubmatch(line); m != nil {
				tagVersion = strings.TrimPrefix(m[1], "v")
				continue
			}
		}
		if m := revisionRegex.FindStringSubmatch(line); m != nil {
			revision, _ = strconv.Atoi(m[1])
			continue
		}

		if dependsSymRegex.MatchString(trimmed) {
			// :linux / :macos / :build-style symbol dependencies are not
			// name-bearing formula deps; ignored.
			continue
		}
		if m := dependsOnRegex.FindStringSubmatch(line); m != nil {
			dep := Dependency{Name: m[1], Kind: DependencyRequired}
			rest := m[3]
			if buildSuffixRegex.MatchString(rest) {
				dep.Kind = DependencyBuild
			}
			for _, cm := range constraintRegex.FindAllStringSubmatch(rest, -1) {
				dep.Constraints = append(dep.Constraints, cm[1]+cm[2])
			}
			f.Dependencies = append(f.Dependencies, dep)
			continue
		}
	}

	if f.HasPostInstall {
		f.PostInstallScript = strings.Join(postInstallLines, "\n")
	}

	version, err := resolveVersion(explicitVersion, tagVersion, f.SourceURL)
	if err != nil {
		return nil, ParseError(name, err.Error())
	}
	if revision > 0 {
		version = fmt.Sprintf("%s_%d", version, revision)
	}
	f.Version = version

	if f.SourceSHA256 == "" {
		f.SourceSHA256 = ZeroSHA256
	}

	return f, nil
}

// resolveVersion applies the fallback ladder: explicit version, else
// VCS tag, else a regex ladder over the source URL. Underscores in the
// resulting version are normalized to dots.
func resolveVersion(explicit, tag, url string) (string, error) {
	if explicit != "" {
		return normalizeVersion(explicit), nil
	}
	if tag != "" {
		return normalizeVersion(tag), nil
	}
	if url != "" {
		for _, re := range urlVersionLadder {
			if m := re.FindStringSubmatch(url); m != nil {
				return normalizeVersion(m[1]), nil
			}
		}
		// Bare integer fallback: last run of digits in the URL.
		if m := regexp.MustCompile(`(\d+)(?:[^\d]*)$`).FindStringSubmatch(url); m != nil {
			return normalizeVersion(m[1]), nil
		}
	}
	return "", fmt.Errorf("no version found in formula")
}

func normalizeVersion(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}
