package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const spoolEvents = `{"post_type":"message","message_type":"group","group_id":900001,"message":"演绎招募 群号 123456","time":1748736000}
{"post_type":"message","message_type":"group","group_id":900001,"message":"演绎招募 群号 123456","time":1748736060}
{"post_type":"message","message_type":"group","group_id":900001,"message":"闲聊 没有号码","time":1748736120}
{"post_type":"message","message_type":"group","group_id":900009,"message":"群号 999999","time":1748736180}
`

func writeSpoolFile(t *testing.T, dir string, name string, data string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewSpooler_RequiresInputs(t *testing.T) {
	p := NewPipeline(NewBuilder(nil), newTestFileStore(t), nil)
	if _, err := NewSpooler(SpoolConfig{}, p, nil, nil); err == nil {
		t.Fatalf("expected error without inputs")
	}
	if _, err := NewSpooler(SpoolConfig{Inputs: SpoolInputs{Items: []SpoolInput{{Name: "x", Glob: "/tmp/*.json"}}}}, nil, nil, nil); err == nil {
		t.Fatalf("expected error without pipeline")
	}
}

func TestSpooler_RunOnce(t *testing.T) {
	tmp := t.TempDir()
	inDir := filepath.Join(tmp, "in")
	doneDir := filepath.Join(tmp, "done")
	errDir := filepath.Join(tmp, "bad")

	good := writeSpoolFile(t, inDir, "a.jsonl", spoolEvents)
	bad := writeSpoolFile(t, inDir, "b.jsonl", "{not json")
	empty := writeSpoolFile(t, inDir, "c.jsonl", "")

	store := newTestFileStore(t)
	p := NewPipeline(NewBuilder(nil), store, nil)
	sp, err := NewSpooler(SpoolConfig{
		Inputs: SpoolInputs{Items: []SpoolInput{
			{Name: "napcat", Glob: filepath.Join(inDir, "*.jsonl"), DoneDir: doneDir, ErrorDir: errDir},
		}},
		Concurrency: 2,
	}, p, NewEventFilter([]string{"900001"}), nil)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := sp.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 2 || stats.FilesDone != 1 || stats.FilesFailed != 1 {
		t.Fatalf("unexpected file stats %+v", stats)
	}
	if stats.Messages != 3 || stats.Inserted != 1 || stats.Unchanged != 1 || stats.Skipped != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected message stats %+v", stats)
	}

	if _, err := os.Stat(good); !os.IsNotExist(err) {
		t.Fatalf("ingested file should be moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(doneDir, "a.jsonl")); err != nil {
		t.Fatalf("expected file in done dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(errDir, "b.jsonl")); err != nil {
		t.Fatalf("expected quarantined file: %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatalf("bad file should be quarantined: %v", err)
	}
	if _, err := os.Stat(empty); err != nil {
		t.Fatalf("empty file should be left for the writer: %v", err)
	}

	e, err := store.Latest(context.Background(), "123456")
	if err != nil || e == nil {
		t.Fatalf("latest: %v %v", e, err)
	}
	if e.SeenCount != 2 || e.SourceLabel != "qq_group_900001" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e, _ := store.Latest(context.Background(), "999999"); e != nil {
		t.Fatalf("message from a group outside the allow-list was stored")
	}
}

func TestSpooler_DeletesWithoutDoneDir(t *testing.T) {
	inDir := filepath.Join(t.TempDir(), "in")
	good := writeSpoolFile(t, filepath.Join(inDir, "nested", "deeper"), "a.json", spoolEvents)

	p := NewPipeline(NewBuilder(nil), newTestFileStore(t), nil)
	sp, err := NewSpooler(SpoolConfig{
		Inputs: SpoolInputs{Items: []SpoolInput{{Name: "x", Glob: filepath.Join(inDir, "**", "*.json")}}},
	}, p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := sp.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesDone != 1 || stats.Inserted != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := os.Stat(good); !os.IsNotExist(err) {
		t.Fatalf("file should be deleted after ingest: %v", err)
	}
}

func TestSpooler_KeepsFileWhenStoreUnavailable(t *testing.T) {
	tmp := t.TempDir()
	inDir := filepath.Join(tmp, "in")
	good := writeSpoolFile(t, inDir, "a.jsonl", spoolEvents)

	p := NewPipeline(NewBuilder(nil), &unavailableStore{}, nil)
	sp, err := NewSpooler(SpoolConfig{
		Inputs: SpoolInputs{Items: []SpoolInput{
			{Name: "x", Glob: filepath.Join(inDir, "*.jsonl"), DoneDir: filepath.Join(tmp, "done"), ErrorDir: filepath.Join(tmp, "bad")},
		}},
	}, p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := sp.RunOnce(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if stats.FilesKept != 1 || stats.FilesDone != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := os.Stat(good); err != nil {
		t.Fatalf("file must stay in place for the next run: %v", err)
	}
}

func TestExpandGlobWithDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeSpoolFile(t, root, "top.json", "{}")
	writeSpoolFile(t, filepath.Join(root, "a"), "one.json", "{}")
	writeSpoolFile(t, filepath.Join(root, "a", "b"), "two.json", "{}")
	writeSpoolFile(t, filepath.Join(root, "a", "b"), "skip.txt", "{}")

	got, err := expandGlobWithDoubleStar(filepath.Join(root, "**", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %v", got)
	}
	got, err = expandGlobWithDoubleStar(filepath.Join(root, "a", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %v", got)
	}
}
