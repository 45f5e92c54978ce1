package types

import (
	"fmt"
	"mime/multipart"
	"strconv"
)

// MaxTrainingImages bounds the reference images accepted per training job.
const MaxTrainingImages = 5

// LoraSpec selects one LoRA adapter and its blend strength.
type LoraSpec struct {
	// File name of the adapter under the user's LoRA directory.
	// example: my-style.safetensors
	File string `json:"file" example:"my-style.safetensors"`
	// Blend strength, usually between 0 and 1.
	// example: 0.8
	Strength float64 `json:"strength" example:"0.8"`
}

// GenerateRequest is an image generation job.
type GenerateRequest struct {
	// Prompt text.
	// example: a watercolor fox in the snow
	Prompt string `json:"prompt" example:"a watercolor fox in the snow"`
	// Owner of the produced artifact.
	// example: user-42
	UserID string `json:"userId" example:"user-42"`
	// Ordered LoRA adapters to apply.
	Loras []LoraSpec `json:"loras"`
}

// GenerateResult is the single-shot generation response.
type GenerateResult struct {
	Success   bool   `json:"success"`
	ImagePath string `json:"image_path,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ImageFile is one uploaded reference image.
type ImageFile struct {
	Filename string
	Content  []byte
}

// TrainingOptions holds optional hyperparameters; nil fields let the engine decide.
type TrainingOptions struct {
	FastMode              *bool    `json:"fast_mode,omitempty"`
	NumTrainEpochs        *int     `json:"num_train_epochs,omitempty"`
	LearningRate          *float64 `json:"learning_rate,omitempty"`
	LoraRank              *int     `json:"lora_rank,omitempty"`
	WithPriorPreservation *bool    `json:"with_prior_preservation,omitempty"`
}

// TrainingRequest is a LoRA training job. It travels as multipart form data.
type TrainingRequest struct {
	LoraName string
	UserID   string
	Images   []ImageFile
	Options  TrainingOptions
}

// TrainResult is the single-shot training response.
type TrainResult struct {
	Success  bool   `json:"success"`
	LoraPath string `json:"lora_path,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Validate checks the invariants the engine enforces so bad jobs fail before upload.
func (r TrainingRequest) Validate() error {
	if r.LoraName == "" {
		return fmt.Errorf("lora_name is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(r.Images) == 0 {
		return fmt.Errorf("at least one image is required")
	}
	if len(r.Images) > MaxTrainingImages {
		return fmt.Errorf("maximum %d images allowed", MaxTrainingImages)
	}
	return nil
}

// WriteMultipart encodes r with the engine's field names. The caller closes mw.
func (r TrainingRequest) WriteMultipart(mw *multipart.Writer) error {
	fields := [][2]string{{"lora_name", r.LoraName}, {"user_id", r.UserID}}
	o := r.Options
	if o.FastMode != nil {
		fields = append(fields, [2]string{"fast_mode", strconv.FormatBool(*o.FastMode)})
	}
	if o.NumTrainEpochs != nil {
		fields = append(fields, [2]string{"num_train_epochs", strconv.Itoa(*o.NumTrainEpochs)})
	}
	if o.LearningRate != nil {
		fields = append(fields, [2]string{"learning_rate", strconv.FormatFloat(*o.LearningRate, 'g', -1, 64)})
	}
	if o.LoraRank != nil {
		fields = append(fields, [2]string{"lora_rank", strconv.Itoa(*o.LoraRank)})
	}
	if o.WithPriorPreservation != nil {
		fields = append(fields, [2]string{"with_prior_preservation", strconv.FormatBool(*o.WithPriorPreservation)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	for i, img := range r.Images {
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image-%d.png", i)
		}
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := fw.Write(img.Content); err != nil {
			return fmt.Errorf("write image %s: %w", name, err)
		}
	}
	return nil
}
