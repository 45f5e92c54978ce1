package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"loramint/internal/relay"
	"loramint/pkg/types"
)

func decodeGenerate(w http.ResponseWriter, r *http.Request) (types.GenerateRequest, bool) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return req, false
	}
	return req, true
}

// handleGenerate godoc
// @Summary      Generate an image and wait for the result
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        body  body      types.GenerateRequest  true  "generation job"
// @Success      200   {object}  types.GenerateResult
// @Failure      400   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Router       /api/generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerate(w, r)
	if !ok {
		return
	}
	ctx, cancel := jobContext(r)
	defer cancel()
	res, err := s.eng.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGenerateStream godoc
// @Summary      Generate an image with streamed progress
// @Description  Responds with text/event-stream; each event is one `data:` line holding a ProgressEvent.
// @Tags         jobs
// @Accept       json
// @Produce      text/event-stream
// @Param        body  body      types.GenerateRequest  true  "generation job"
// @Success      200   {object}  types.ProgressEvent
// @Failure      400   {object}  types.ErrorResponse
// @Router       /api/generate/stream [post]
func (s *server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerate(w, r)
	if !ok {
		return
	}
	s.streamJob(w, r, relay.KindGenerate, func(ctx context.Context) (*http.Response, error) {
		return s.eng.OpenGenerateStream(ctx, req)
	})
}

// formError is a client mistake in a multipart training form.
type formError struct{ msg string }

func (e formError) Error() string   { return e.msg }
func (e formError) StatusCode() int { return http.StatusBadRequest }

// parseTrainingForm reads a multipart training upload with the engine's field names.
func parseTrainingForm(w http.ResponseWriter, r *http.Request) (types.TrainingRequest, error) {
	var req types.TrainingRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, formError{fmt.Sprintf("upload exceeds %d bytes", mbe.Limit)}
		}
		return req, formError{"invalid multipart form"}
	}
	req.LoraName = strings.TrimSpace(r.FormValue("lora_name"))
	req.UserID = strings.TrimSpace(r.FormValue("user_id"))

	var err error
	if req.Options.FastMode, err = formBool(r, "fast_mode"); err != nil {
		return req, err
	}
	if req.Options.WithPriorPreservation, err = formBool(r, "with_prior_preservation"); err != nil {
		return req, err
	}
	if req.Options.NumTrainEpochs, err = formInt(r, "num_train_epochs"); err != nil {
		return req, err
	}
	if req.Options.LoraRank, err = formInt(r, "lora_rank"); err != nil {
		return req, err
	}
	if v := r.FormValue("learning_rate"); v != "" {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || f <= 0 {
			return req, formError{"learning_rate must be a positive number"}
		}
		req.Options.LearningRate = &f
	}

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File["images"]
	}
	if len(files) > types.MaxTrainingImages {
		return req, formError{fmt.Sprintf("maximum %d images allowed", types.MaxTrainingImages)}
	}
	for _, fh := range files {
		b, err := readFormFile(fh)
		if err != nil {
			return req, err
		}
		req.Images = append(req.Images, types.ImageFile{Filename: fh.Filename, Content: b})
	}
	if err := req.Validate(); err != nil {
		return req, formError{err.Error()}
	}
	return req, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formBool(r *http.Request, key string) (*bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, formError{key + " must be a boolean"}
	}
	return &b, nil
}

func formInt(r *http.Request, key string) (*int, error) {
	v := r.FormValue(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil, formError{key + " must be a positive integer"}
	}
	return &n, nil
}

// handleTrain godoc
// @Summary      Train a LoRA and wait for the result
// @Tags         jobs
// @Accept       mpfd
// @Produce      json
// @Param        lora_name  formData  string  true   "adapter name"
// @Param        user_id    formData  string  true   "owner"
// @Param        images     formData  file    true   "1 to 5 reference images"
// @Success      200  {object}  types.TrainResult
// @Failure      400  {object}  types.ErrorResponse
// @Router       /api/train-lora [post]
func (s *server) handleTrain(w http.ResponseWriter, r *http.Request) {
	req, err := parseTrainingForm(w, r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ctx, cancel := jobContext(r)
	defer cancel()
	res, err := s.eng.Train(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTrainStream godoc
// @Summary      Train a LoRA with streamed progress
// @Tags         jobs
// @Accept       mpfd
// @Produce      text/event-stream
// @Param        lora_name  formData  string  true   "adapter name"
// @Param        user_id    formData  string  true   "owner"
// @Param        images     formData  file    true   "1 to 5 reference images"
// @Success      200  {object}  types.ProgressEvent
// @Failure      400  {object}  types.ErrorResponse
// @Router       /api/train-lora/stream [post]
func (s *server) handleTrainStream(w http.ResponseWriter, r *http.Request) {
	req, err := parseTrainingForm(w, r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.streamJob(w, r, relay.KindTrain, func(ctx context.Context) (*http.Response, error) {
		return s.eng.OpenTrainStream(ctx, req)
	})
}

// handleDownload godoc
// @Summary      Download model weights with streamed progress
// @Tags         models
// @Produce      text/event-stream
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ProgressEvent
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/models/{id}/download [post]
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// unknown ids are rejected before the stream starts
	if !s.models.Known(id) {
		writeJSONError(w, http.StatusNotFound, "model not found: "+id)
		return
	}
	s.streamJob(w, r, relay.KindDownload, func(ctx context.Context) (*http.Response, error) {
		return s.models.Download(ctx, id)
	})
}

func (s *server) handleListLoras(w http.ResponseWriter, r *http.Request) {
	loras, err := s.eng.ListLoras(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if loras == nil {
		loras = []types.LoraFile{}
	}
	writeJSON(w, http.StatusOK, types.LorasResponse{Loras: loras})
}

func (s *server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.eng.ListImages(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if images == nil {
		images = []types.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, types.ImagesResponse{Images: images})
}
