package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"taskflow/internal/models"
	"taskflow/internal/taskerr"
)

// maxUploadSize bounds the multipart import body.
const maxUploadSize = 32 << 20

// CreateTask creates a new task.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid form data")
		return
	}

	in := models.TaskInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}
	if v := r.FormValue("due_date"); v != "" {
		due, err := parseDate(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid due_date")
			return
		}
		in.DueDate = due
	}

	task, err := h.tasks.Create(ctx, in)
	if err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, newTaskView(task, h.now()))
}

// UpdateTask changes the fields present in the form and leaves the rest alone.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid task id")
		return
	}

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid form data")
		return
	}

	var patch models.TaskPatch
	if r.Form.Has("title") {
		title := r.Form.Get("title")
		patch.Title = &title
	}
	if r.Form.Has("description") {
		description := r.Form.Get("description")
		patch.Description = &description
	}
	if r.Form.Has("due_date") {
		due, err := parseDate(r.Form.Get("due_date"))
		if err != nil {
			respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid due_date")
			return
		}
		patch.DueDate = &due
	}

	task, err := h.tasks.Update(ctx, id, patch)
	if err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newTaskView(task, h.now()))
}

// CompleteTask marks a task as completed.
func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid task id")
		return
	}

	if err := h.tasks.Complete(ctx, id); err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	task, ok := h.tasks.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, newTaskView(task, h.now()))
}

// DeleteTask deletes a task.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid task id")
		return
	}

	if err := h.tasks.Delete(ctx, id); err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportTasks downloads the user's tasks as a spreadsheet.
func (h *Handlers) ExportTasks(w http.ResponseWriter, r *http.Request) {
	export, err := h.tasks.Export(r.Context())
	if err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	contentType := export.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Data)
}

// ImportTasks uploads the multipart "file" field to the remote.
func (h *Handlers) ImportTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "file is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "unreadable file")
		return
	}

	summary, err := h.tasks.Import(ctx, header.Filename, payload)
	if err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	message := summary.Message
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Imported %d tasks", summary.Imported)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":  message,
		"imported": summary.Imported,
	})
}
