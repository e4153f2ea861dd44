// Package installer implements C9: staging, relocation, promotion,
// symlink management, and receipt writing for a single bottle, plus
// verification, uninstall, and repair of an already-promoted Cellar
// entry.
package installer

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/pkglock"
	"github.com/velo-pm/velo/internal/receipts"
	"github.com/velo-pm/velo/internal/verrors"
	"github.com/velo-pm/velo/internal/vlog"
)

var homebrewPlaceholders = []string{"@@HOMEBREW_PREFIX@@", "@@HOMEBREW_CELLAR@@"}

// Options controls a single Install call.
type Options struct {
	Force          bool
	CreateSymlinks bool
	// RequestedBy lists the names of the packages that pulled this one
	// in as a dependency, or is empty for a direct, explicit install.
	RequestedBy []string
}

// Result is the outcome of a successful Install: the written receipt
// plus any non-fatal symlink conflicts that were skipped.
type Result struct {
	Receipt          *receipts.Receipt
	SymlinkConflicts []string
}

// Installer drives the stage → relocate → promote → link → receipt
// pipeline for one Layout.
type Installer struct {
	l        *layout.Layout
	receipts *receipts.Store
	log      vlog.Logger
}

// New constructs an Installer anchored at l.
func New(l *layout.Layout, log vlog.Logger) *Installer {
	if log == nil {
		log = vlog.NewNoop()
	}
	return &Installer{l: l, receipts: receipts.New(l), log: log}
}

// Install stages archivePath (a gzip tar of <name>/<version>/…),
// relocates placeholders, promotes it into the Cellar, links it, and
// writes its receipt.
func (in *Installer) Install(f *formula.Formula, archivePath string, opts Options) (*Result, error) {
	lock, err := pkglock.Acquire(in.l.PackageLockFile(f.Name), true)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	staging := in.l.StagingDir(f.Name, f.Version)
	os.RemoveAll(staging)
	if err := stageArchive(archivePath, staging, f.Name, f.Version); err != nil {
		os.RemoveAll(staging)
		return nil, verrors.New(verrors.KindExtraction, "install", f.Name, err.Error())
	}

	corrupted, err := relocateTree(staging, in.l.P, in.l.Cellar())
	if err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("installer: relocate %s: %w", f.Name, err)
	}

	final := in.l.PackageDir(f.Name, f.Version)
	if _, err := os.Stat(final); err == nil {
		if !opts.Force {
			os.RemoveAll(staging)
			return nil, verrors.New(verrors.KindAlreadyInstalled, "install", f.Name, fmt.Sprintf("%s %s is already installed", f.Name, f.Version))
		}
		if err := os.RemoveAll(final); err != nil {
			os.RemoveAll(staging)
			return nil, fmt.Errorf("installer: remove prior install of %s: %w", f.Name, err)
		}
	}

	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("installer: promote %s: %w", f.Name, err)
	}

	if err := in.updateDefaultVersion(f.Name, final); err != nil {
		in.log.Warn("failed to update default version symlink", "package", f.Name, "err", err)
	}

	var conflicts []string
	symlinksCreated := false
	if opts.CreateSymlinks {
		created, skipped, err := in.linkBinaries(final)
		if err != nil {
			return nil, fmt.Errorf("installer: link %s: %w", f.Name, err)
		}
		conflicts = skipped
		symlinksCreated = created
	}

	r, err := in.writeReceipt(f.Name, f.Version, opts, symlinksCreated, corrupted)
	if err != nil {
		return nil, err
	}

	return &Result{Receipt: r, SymlinkConflicts: conflicts}, nil
}

func (in *Installer) writeReceipt(name, version string, opts Options, symlinksCreated bool, corrupted int) (*receipts.Receipt, error) {
	installedAs := receipts.Explicit
	if len(opts.RequestedBy) > 0 {
		installedAs = receipts.Dependency
	}

	return in.receipts.Update(name, version, func(r *receipts.Receipt) {
		r.Package = name
		r.Version = version
		r.InstalledAs = installedAs
		r.SymlinksCreated = r.SymlinksCreated || symlinksCreated
		r.CorruptedRelocations = corrupted
		for _, requester := range opts.RequestedBy {
			r.RequestedBy = appendUnique(r.RequestedBy, requester)
		}
	})
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// updateDefaultVersion repoints opt/<name> at final.
func (in *Installer) updateDefaultVersion(name, final string) error {
	link := in.l.OptSymlink(name)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(final, link)
}

// linkBinaries creates P/bin/<exe> for every regular file under
// final/bin/. Returns whether at least one symlink was created, and the
// list of targets skipped due to a conflicting non-symlink.
func (in *Installer) linkBinaries(final string) (bool, []string, error) {
	binDir := filepath.Join(final, "bin")
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if err := os.MkdirAll(in.l.Bin(), 0o755); err != nil {
		return false, nil, err
	}

	created := false
	var conflicts []string
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return created, conflicts, err
		}
		if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
			continue
		}

		target := filepath.Join(binDir, e.Name())
		dest := in.l.SymlinkPath(e.Name())

		if existing, err := os.Lstat(dest); err == nil {
			if existing.Mode()&os.ModeSymlink == 0 {
				conflicts = append(conflicts, dest)
				continue
			}
			if err := os.Remove(dest); err != nil {
				return created, conflicts, err
			}
		}

		if err := os.Symlink(target, dest); err != nil {
			return created, conflicts, err
		}
		created = true
	}
	return created, conflicts, nil
}

// stageArchive extracts a gzip-tar archive into staging, collapsing the
// archive's <name>/<version>/ top-level directory.
func stageArchive(archivePath, staging, name, version string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	stripPrefix := name + "/" + version + "/"

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		relPath := strings.TrimPrefix(hdr.Name, stripPrefix)
		if relPath == hdr.Name || relPath == "" {
			// Entry doesn't carry the expected <name>/<version>/ prefix
			// (the bare top-level directory entries); skip it.
			continue
		}
		dest := filepath.Join(staging, relPath)
		if !strings.HasPrefix(dest, filepath.Clean(staging)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry escapes staging directory: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)|0o200)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return err
			}
		default:
			// Ignore device nodes, fifos, etc.; bottles don't carry them.
		}
	}
	return nil
}

// relocateTree walks dir and rewrites every file containing a Homebrew
// placeholder token. Per-file relocation failures are non-fatal; they
// are counted and returned so the caller can mark the receipt
// corrupted.
func relocateTree(dir, prefix, cellar string) (int, error) {
	corrupted := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if relocateErr := relocateFile(path, prefix, cellar); relocateErr != nil {
			corrupted++
		}
		return nil
	})
	return corrupted, err
}

// relocateFile rewrites @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@
// occurrences in a single file: literal text substitution for text
// files, install_name_tool-driven reference rewriting for Mach-O
// binaries. It is idempotent — a second call on an already-relocated
// file is a no-op.
func relocateFile(path, prefix, cellar string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	hasPlaceholder := false
	for _, p := range homebrewPlaceholders {
		if bytes.Contains(content, []byte(p)) {
			hasPlaceholder = true
			break
		}
	}
	if !hasPlaceholder {
		return nil
	}

	if isBinaryFile(content) {
		if isMachO(content) {
			return relocateMachO(path, prefix, cellar)
		}
		// Unrecognized binary format carrying placeholder bytes; leave
		// it, but report it as a relocation failure for the receipt.
		return fmt.Errorf("relocatable placeholder in non-Mach-O binary: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	newContent := bytes.ReplaceAll(content, []byte("@@HOMEBREW_PREFIX@@"), []byte(prefix))
	newContent = bytes.ReplaceAll(newContent, []byte("@@HOMEBREW_CELLAR@@"), []byte(cellar))

	mode := info.Mode()
	if mode&0o200 == 0 {
		if err := os.Chmod(path, mode|0o200); err != nil {
			return err
		}
	}
	return os.WriteFile(path, newContent, mode)
}

// isBinaryFile reports whether content contains a null byte in its
// first 8KB.
func isBinaryFile(content []byte) bool {
	checkLen := 8192
	if len(content) < checkLen {
		checkLen = len(content)
	}
	return bytes.IndexByte(content[:checkLen], 0) != -1
}

var machOMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce}, {0xce, 0xfa, 0xed, 0xfe},
	{0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe}, {0xbe, 0xba, 0xfe, 0xca},
}

func isMachO(content []byte) bool {
	if len(content) < 4 {
		return false
	}
	for _, magic := range machOMagics {
		if bytes.Equal(content[:4], magic) {
			return true
		}
	}
	return false
}

// relocateMachO rewrites this Mach-O file's dynamic library references
// and, for .dylib files, its own install name, replacing any
// placeholder-rooted path with its real equivalent under prefix/cellar.
// Tooling is best-effort: a missing install_name_tool/otool leaves the
// file untouched and reports an error so the caller can count it.
func relocateMachO(path, prefix, cellar string) error {
	installNameTool, err := exec.LookPath("install_name_tool")
	if err != nil {
		return fmt.Errorf("install_name_tool not found: %w", err)
	}
	otool, err := exec.LookPath("otool")
	if err != nil {
		return fmt.Errorf("otool not found: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if mode&0o200 == 0 {
		if err := os.Chmod(path, mode|0o200); err != nil {
			return err
		}
		defer os.Chmod(path, mode)
	}

	resolve := func(ref string) string {
		ref = strings.ReplaceAll(ref, "@@HOMEBREW_PREFIX@@", prefix)
		ref = strings.ReplaceAll(ref, "@@HOMEBREW_CELLAR@@", cellar)
		return ref
	}

	if out, err := exec.Command(otool, "-D", path).Output(); err == nil {
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		if len(lines) == 2 {
			current := strings.TrimSpace(lines[1])
			if strings.Contains(current, "HOMEBREW") {
				newID := resolve(current)
				exec.Command(installNameTool, "-id", newID, path).Run()
			}
		}
	}

	out, err := exec.Command(otool, "-L", path).Output()
	if err == nil {
		for _, line := range strings.Split(string(out), "\n")[1:] {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) == 0 {
				continue
			}
			ref := fields[0]
			if strings.Contains(ref, "HOMEBREW") {
				newRef := resolve(ref)
				exec.Command(installNameTool, "-change", ref, newRef, path).Run()
			}
		}
	}

	if codesign, err := exec.LookPath("codesign"); err == nil {
		exec.Command(codesign, "-f", "-s", "-", path).Run()
	}

	return nil
}

// RepairBinaryLibraryPaths performs just the relocate step on a single
// file (a Mach-O binary, or a text file carrying placeholders), used by
// the repair pathway to heal files left with unrewritten placeholders by
// an older install.
func (in *Installer) RepairBinaryLibraryPaths(binaryPath string) error {
	return relocateFile(binaryPath, in.l.P, in.l.Cellar())
}

// Status is the verdict of VerifyInstallation.
type Status string

const (
	StatusInstalled    Status = "installed"
	StatusCorrupted    Status = "corrupted"
	StatusNotInstalled Status = "not_installed"
)

// VerifyInstallation checks a Cellar entry against its receipt.
// Corruption covers missing bin/ contents, missing expected symlinks
// (when the receipt demands them), or any remaining @@HOMEBREW_*
// placeholder left inside a Mach-O file.
func (in *Installer) VerifyInstallation(f *formula.Formula, checkSymlinks bool) (Status, string, error) {
	dir := in.l.PackageDir(f.Name, f.Version)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return StatusNotInstalled, "", nil
		}
		return "", "", err
	}

	r, err := in.receipts.LoadOrDefault(f.Name, f.Version)
	if err != nil {
		return "", "", err
	}

	binDir := filepath.Join(dir, "bin")
	if entries, err := os.ReadDir(binDir); err == nil && len(entries) == 0 {
		return StatusCorrupted, "empty bin/ directory", nil
	}

	if checkSymlinks && r.SymlinksCreated {
		entries, err := os.ReadDir(binDir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				link := in.l.SymlinkPath(e.Name())
				target, err := os.Readlink(link)
				if err != nil || filepath.Clean(target) != filepath.Clean(filepath.Join(binDir, e.Name())) {
					return StatusCorrupted, fmt.Sprintf("missing or stale symlink for %s", e.Name()), nil
				}
			}
		}
	}

	placeholderFound := false
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 || placeholderFound {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if isBinaryFile(content) && isMachO(content) {
			for _, p := range homebrewPlaceholders {
				if bytes.Contains(content, []byte(p)) {
					placeholderFound = true
					return nil
				}
			}
		}
		return nil
	})
	if placeholderFound {
		return StatusCorrupted, "unrewritten @@HOMEBREW_*@@ placeholder in a Mach-O file", nil
	}

	return StatusInstalled, "", nil
}

// UninstallVersion removes one Cellar version tree, any symlinks whose
// target resolves into it, and its receipt.
func (in *Installer) UninstallVersion(name, version string) error {
	lock, err := pkglock.Acquire(in.l.PackageLockFile(name), true)
	if err != nil {
		return err
	}
	defer lock.Release()

	dir := in.l.PackageDir(name, version)
	if err := in.removeDanglingSymlinksInto(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("installer: remove %s: %w", dir, err)
	}

	if target, err := os.Readlink(in.l.OptSymlink(name)); err == nil && filepath.Clean(target) == filepath.Clean(dir) {
		os.Remove(in.l.OptSymlink(name))
	}

	return in.receipts.Delete(name, version)
}

// Uninstall removes every installed version of name.
func (in *Installer) Uninstall(name string) error {
	versions, err := in.l.InstalledVersions(name)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := in.UninstallVersion(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) removeDanglingSymlinksInto(dir string) error {
	entries, err := os.ReadDir(in.l.Bin())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		link := filepath.Join(in.l.Bin(), e.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		if strings.HasPrefix(filepath.Clean(target), filepath.Clean(dir)+string(os.PathSeparator)) || filepath.Clean(target) == filepath.Clean(dir) {
			os.Remove(link)
		}
	}
	return nil
}

// CreateSymlinksForExistingPackage promotes a dependency-only install to
// explicit: it creates the bin/ symlinks for an already-staged package
// and rewrites its receipt, without re-downloading or re-extracting
// anything.
func (in *Installer) CreateSymlinksForExistingPackage(name, version string) (*Result, error) {
	final := in.l.PackageDir(name, version)
	if _, err := os.Stat(final); err != nil {
		return nil, verrors.New(verrors.KindNotFound, "promote", name, fmt.Sprintf("%s %s is not installed", name, version))
	}

	_, skipped, err := in.linkBinaries(final)
	if err != nil {
		return nil, fmt.Errorf("installer: link %s: %w", name, err)
	}

	r, err := in.receipts.Promote(name, version)
	if err != nil {
		return nil, err
	}
	return &Result{Receipt: r, SymlinkConflicts: skipped}, nil
}
