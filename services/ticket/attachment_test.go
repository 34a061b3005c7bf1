package ticket

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"opsdesk/pkg/errutil"
)

// fakeStore records object operations without a bucket behind them.
type fakeStore struct {
	puts    []string
	removed []string
}

func (f *fakeStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	f.puts = append(f.puts, objectName)
	return objectName, nil
}

func (f *fakeStore) Remove(ctx context.Context, objectName string) error {
	f.removed = append(f.removed, objectName)
	return nil
}

func (e *testEnv) addAttachment(t *testing.T, store *fakeStore, taskID, filename string) *Attachment {
	t.Helper()

	a, err := e.svc.AddAttachment(context.Background(), store, taskID,
		filename, "text/plain", 64, strings.NewReader("log contents"), e.admin)
	require.NoError(t, err)
	return a
}

func TestService_AddAttachment_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &fakeStore{}

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Collect crash dumps", Priority: PriorityMedium,
	}, env.admin.ID)
	require.NoError(t, err)

	_, err = env.svc.AddAttachment(ctx, store, created.ID,
		"huge.bin", "text/plain", 11<<20, strings.NewReader(""), env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)

	_, err = env.svc.AddAttachment(ctx, store, created.ID,
		"tool.exe", "application/x-msdownload", 64, strings.NewReader(""), env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)

	require.Empty(t, store.puts)

	a := env.addAttachment(t, store, created.ID, "crash.log")
	require.Equal(t, created.ID, a.TaskID)
	require.Equal(t, env.admin.ID, a.UploaderID)
	require.Len(t, store.puts, 1)
}

func TestService_DeleteAttachment_RemovesObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &fakeStore{}

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Rotate access logs", Priority: PriorityLow,
	}, env.admin.ID)
	require.NoError(t, err)

	a := env.addAttachment(t, store, created.ID, "access.log")

	require.NoError(t, env.svc.DeleteAttachment(ctx, store, created.ID, a.ID, env.admin))
	require.Equal(t, []string{a.FilePath}, store.removed)

	var count int64
	require.NoError(t, env.db.Model(&Attachment{}).Where("id = ?", a.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestService_DeleteTask_RemovesStoredObjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &fakeStore{}

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Retire backup host", Priority: PriorityMedium,
	}, env.admin.ID)
	require.NoError(t, err)

	first := env.addAttachment(t, store, created.ID, "inventory.txt")
	second := env.addAttachment(t, store, created.ID, "wipe.log")

	require.NoError(t, env.svc.DeleteTask(ctx, store, created.ID, env.admin))

	require.ElementsMatch(t, []string{first.FilePath, second.FilePath}, store.removed)

	var count int64
	require.NoError(t, env.db.Model(&Attachment{}).Where("task_id = ?", created.ID).Count(&count).Error)
	require.Zero(t, count)
}
