// Package storetest runs a shared conformance suite against store.Registry
// implementations.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/cohort-reporting/internal/testutil"
	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
)

// Run exercises a registry created fresh by newRegistry for each subtest.
func Run(t *testing.T, newRegistry func(t *testing.T) store.Registry) {
	t.Run("CreateAndGet", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()

		created, err := r.Create(ctx, testutil.Definitions()[1])
		require.NoError(t, err)
		assert.NotEmpty(t, created.UUID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, created.CreatedAt, created.UpdatedAt)

		got, err := r.Get(ctx, "EnrolledOnDate")
		require.NoError(t, err)
		assert.Equal(t, created.UUID, got.UUID)
		assert.Equal(t, definition.KindPatientState, got.Kind)
		require.Len(t, got.Parameters, 1)
		assert.Equal(t, definition.TypeDate, got.Parameters[0].Type)

		byID, err := r.GetByUUID(ctx, created.UUID)
		require.NoError(t, err)
		assert.Equal(t, "EnrolledOnDate", byID.Name)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()

		_, err := r.Create(ctx, testutil.Definitions()[0])
		require.NoError(t, err)
		_, err = r.Create(ctx, testutil.Definitions()[0])
		assert.ErrorIs(t, err, definition.ErrAlreadyExists)
	})

	t.Run("DuplicateUUID", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()

		male, err := r.Create(ctx, testutil.Definitions()[0])
		require.NoError(t, err)

		_, err = r.Create(ctx, &definition.Definition{Name: "Other", UUID: male.UUID})
		assert.ErrorIs(t, err, definition.ErrAlreadyExists)
		_, err = r.Save(ctx, &definition.Definition{Name: "Other", UUID: male.UUID})
		assert.ErrorIs(t, err, definition.ErrAlreadyExists)

		_, err = r.Get(ctx, "Other")
		assert.ErrorIs(t, err, definition.ErrNotFound)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Create(context.Background(), &definition.Definition{Name: "Bad|Name"})
		assert.Error(t, err)
		_, err = r.Create(context.Background(), &definition.Definition{
			Name:       "Typed",
			Parameters: []definition.Parameter{{Name: "x", Type: "Color"}},
		})
		assert.Error(t, err)
	})

	t.Run("NormalizesParameterTypes", func(t *testing.T) {
		r := newRegistry(t)
		d, err := r.Create(context.Background(), &definition.Definition{
			Name: "Loose",
			Parameters: []definition.Parameter{
				{Name: "when", Type: "date"},
				{Name: "note"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, definition.TypeDate, d.Parameters[0].Type)
		assert.Equal(t, definition.TypeText, d.Parameters[1].Type)
	})

	t.Run("GetMissing", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Get(context.Background(), "Nope")
		assert.ErrorIs(t, err, definition.ErrNotFound)
		_, err = r.GetByUUID(context.Background(), "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, definition.ErrNotFound)
	})

	t.Run("ResolveIsCaseSensitive", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		_, err := r.Create(ctx, testutil.Definitions()[0])
		require.NoError(t, err)

		d, err := r.Resolve(ctx, "Male")
		require.NoError(t, err)
		assert.Equal(t, "Male", d.Name)

		_, err = r.Resolve(ctx, "male")
		assert.ErrorIs(t, err, definition.ErrNotFound)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		_, err := r.Create(ctx, testutil.Definitions()[2])
		require.NoError(t, err)

		d, err := r.Get(ctx, "AgeRange")
		require.NoError(t, err)
		d.Parameters[0].Name = "mutated"
		d.Description = "mutated"

		again, err := r.Get(ctx, "AgeRange")
		require.NoError(t, err)
		assert.Equal(t, "minAge", again.Parameters[0].Name)
		assert.NotEqual(t, "mutated", again.Description)
	})

	t.Run("ListOrdered", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		for _, d := range testutil.Definitions() {
			_, err := r.Create(ctx, d)
			require.NoError(t, err)
		}

		defs, err := r.List(ctx)
		require.NoError(t, err)
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		assert.Equal(t, []string{"AgeRange", "EnrolledOnDate", "Male"}, names)

		names, err = store.Names(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, []string{"AgeRange", "EnrolledOnDate", "Male"}, names)
	})

	t.Run("Update", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		created, err := r.Create(ctx, testutil.Definitions()[2])
		require.NoError(t, err)

		changed := created.Clone()
		changed.Description = "Adults only"
		changed.Parameters = changed.Parameters[:1]
		updated, err := r.Update(ctx, "AgeRange", changed)
		require.NoError(t, err)
		assert.Equal(t, created.UUID, updated.UUID)
		assert.Equal(t, "Adults only", updated.Description)
		assert.Len(t, updated.Parameters, 1)
		assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
		assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))

		_, err = r.Update(ctx, "Missing", changed)
		assert.ErrorIs(t, err, definition.ErrNotFound)
	})

	t.Run("UpdateRename", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		for _, d := range testutil.Definitions() {
			_, err := r.Create(ctx, d)
			require.NoError(t, err)
		}

		renamed := testutil.Definitions()[0]
		renamed.Name = "AgeRange"
		_, err := r.Update(ctx, "Male", renamed)
		assert.ErrorIs(t, err, definition.ErrAlreadyExists)

		renamed.Name = "MalePatients"
		_, err = r.Update(ctx, "Male", renamed)
		require.NoError(t, err)

		_, err = r.Get(ctx, "Male")
		assert.ErrorIs(t, err, definition.ErrNotFound)
		_, err = r.Get(ctx, "MalePatients")
		assert.NoError(t, err)
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()

		first, err := r.Save(ctx, testutil.Definitions()[0])
		require.NoError(t, err)

		again := testutil.Definitions()[0]
		again.Description = "Reloaded"
		second, err := r.Save(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, first.UUID, second.UUID)
		assert.Equal(t, "Reloaded", second.Description)

		defs, err := r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		_, err := r.Create(ctx, testutil.Definitions()[0])
		require.NoError(t, err)

		require.NoError(t, r.Delete(ctx, "Male"))
		_, err = r.Get(ctx, "Male")
		assert.ErrorIs(t, err, definition.ErrNotFound)
		assert.ErrorIs(t, r.Delete(ctx, "Male"), definition.ErrNotFound)
	})

	t.Run("ConcurrentResolve", func(t *testing.T) {
		r := newRegistry(t)
		ctx := context.Background()
		for _, d := range testutil.Definitions() {
			_, err := r.Create(ctx, d)
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.Resolve(ctx, "EnrolledOnDate"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("Resolve: %v", err)
		}
	})
}
