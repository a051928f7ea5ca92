// Package gitrepo keeps a git history of accepted plan snapshots, one
// repository per plan, so a diverged client can be reconciled by hand.
package gitrepo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const snapshotFile = "plan.json"

var (
	ErrNoHistory        = errors.New("plan has no history")
	ErrRevisionNotFound = errors.New("revision not found")
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot records snap as the new head of the plan's history. The
// repository is created on first use. A snapshot identical to the head is
// not committed; changed reports whether a commit was made.
func (s *Service) CommitSnapshot(planKey string, snap plan.Snapshot, author, message string) (CommitInfo, bool, error) {
	lock := s.planLock(planKey)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(planKey)
	if err != nil {
		return CommitInfo{}, false, err
	}

	payload, err := encodeSnapshot(snap)
	if err != nil {
		return CommitInfo{}, false, err
	}

	if head, err := repo.Head(); err == nil {
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return CommitInfo{}, false, fmt.Errorf("load head commit: %w", err)
		}
		if current, err := readFile(commitObj); err == nil && bytes.Equal(current, payload) {
			return toCommitInfo(commitObj), false, nil
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return CommitInfo{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, false, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@plans.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

// History lists commits newest first. A plan without a repository has no
// history and yields an empty list.
func (s *Service) History(planKey string, limit int) ([]CommitInfo, error) {
	lock := s.planLock(planKey)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planKey))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt loads the snapshot recorded by the commit hash (full or
// abbreviated).
func (s *Service) SnapshotAt(planKey, hash string) (plan.Snapshot, error) {
	lock := s.planLock(planKey)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planKey))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return plan.Snapshot{}, ErrNoHistory
	}
	if err != nil {
		return plan.Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return plan.Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return plan.Snapshot{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	if err != nil {
		return plan.Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readFile(commitObj)
	if err != nil {
		return plan.Snapshot{}, err
	}

	var snap plan.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return plan.Snapshot{}, fmt.Errorf("decode commit snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) ensureRepo(planKey string) (*git.Repository, error) {
	path := s.repoPath(planKey)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// repoPath keeps plan keys readable on disk while staying unique for keys
// that sanitize to the same name.
func (s *Service) repoPath(planKey string) string {
	sum := sha256.Sum256([]byte(planKey))
	return filepath.Join(s.baseDir, sanitizeEmail(planKey)+"-"+hex.EncodeToString(sum[:4]))
}

func (s *Service) planLock(planKey string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[planKey]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[planKey] = lock
	return lock
}

// encodeSnapshot writes rows sorted by pos with two-space indentation so
// history diffs line up row by row.
func encodeSnapshot(snap plan.Snapshot) ([]byte, error) {
	clean := plan.Snapshot{Name: snap.Name, Root: plan.SnapshotRoot{Children: stripLocal(snap.Root.Children)}}
	plan.SortTree(clean.Root.Children)
	payload, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(payload, '\n'), nil
}

func stripLocal(family []*plan.Row) []*plan.Row {
	out := make([]*plan.Row, 0, len(family))
	for _, r := range family {
		if r == nil {
			continue
		}
		clean := r.Short().Row()
		clean.Children = stripLocal(r.Children)
		out = append(out, clean)
	}
	return out
}

func readFile(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return raw, nil
}

// RowChange is one field that differs between two snapshots.
type RowChange struct {
	EID    string `json:"eid"`
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DiffRows compares two snapshots row by row. Added and removed rows are
// reported with the pseudo field "row".
func DiffRows(from, to plan.Snapshot) []RowChange {
	before := indexRows(from)
	after := indexRows(to)

	result := make([]RowChange, 0)
	for eid, a := range after {
		b, ok := before[eid]
		if !ok {
			result = append(result, RowChange{EID: eid, Field: "row", After: a.Name})
			continue
		}
		pairs := []struct {
			field  string
			before string
			after  string
		}{
			{"pid", b.PID, a.PID},
			{"pos", strconv.Itoa(b.Pos), strconv.Itoa(a.Pos)},
			{"name", b.Name, a.Name},
			{"tooltip", b.Tooltip, a.Tooltip},
			{"link", b.Link, a.Link},
			{"video", b.Video, a.Video},
			{"video_script", b.VideoScript, a.VideoScript},
			{"checked", strconv.Itoa(int(b.Checked)), strconv.Itoa(int(a.Checked))},
			{"visible", strconv.FormatBool(b.Visible), strconv.FormatBool(a.Visible)},
		}
		for _, p := range pairs {
			if p.before != p.after {
				result = append(result, RowChange{EID: eid, Field: p.field, Before: p.before, After: p.after})
			}
		}
	}
	for eid, b := range before {
		if _, ok := after[eid]; !ok {
			result = append(result, RowChange{EID: eid, Field: "row", Before: b.Name})
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].EID != result[j].EID {
			return result[i].EID < result[j].EID
		}
		return result[i].Field < result[j].Field
	})
	return result
}

func indexRows(snap plan.Snapshot) map[string]plan.ShortRow {
	out := make(map[string]plan.ShortRow)
	plan.Walk(snap.Root.Children, func(r *plan.Row) { out[r.EID] = r.Short() })
	return out
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == ':' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %v", ErrRevisionNotFound, hash, err)
	}
	return *resolved, nil
}
