package types

// ModelDescriptor is an immutable catalog entry for a selectable diffusion model.
// IsDownloaded and LocalPath are derived at read time and never persisted.
type ModelDescriptor struct {
	// Stable identifier for the model.
	// example: sdxl-base
	ID string `json:"id" yaml:"id" toml:"id" example:"sdxl-base"`
	// Human-friendly name.
	// example: SDXL Base 1.0
	Name string `json:"name" yaml:"name" toml:"name" example:"SDXL Base 1.0"`
	// Remote repository identifier the engine downloads from.
	// example: stabilityai/stable-diffusion-xl-base-1.0
	RemoteID string `json:"huggingface_id" yaml:"huggingface_id" toml:"huggingface_id" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	// Short description shown in model pickers.
	Description string `json:"description,omitempty" yaml:"description" toml:"description"`
	// Minimum VRAM in GB needed to load the model.
	// example: 8
	MinVRAMGB int `json:"min_vram_gb" yaml:"min_vram_gb" toml:"min_vram_gb" example:"8"`
	// Recommended VRAM in GB.
	// example: 12
	RecommendedVRAMGB int `json:"recommended_vram_gb" yaml:"recommended_vram_gb" toml:"recommended_vram_gb" example:"12"`
	// Default number of inference steps.
	// example: 30
	InferenceSteps int `json:"inference_steps" yaml:"inference_steps" toml:"inference_steps" example:"30"`
	// Speed classification (Fast, Medium).
	// example: Medium
	SpeedRating string `json:"speed_rating" yaml:"speed_rating" toml:"speed_rating" example:"Medium"`
	// Quality classification (Excellent, High, Good).
	// example: High
	QualityRating string `json:"quality_rating" yaml:"quality_rating" toml:"quality_rating" example:"High"`
	// Estimated download size in GB.
	// example: 7
	EstimatedSizeGB int `json:"estimated_size_gb" yaml:"estimated_size_gb" toml:"estimated_size_gb" example:"7"`
	// Whether LoRA adapters can be applied to this model.
	// example: true
	SupportsLora bool `json:"supports_lora" yaml:"supports_lora" toml:"supports_lora" example:"true"`

	// Derived: weights are present locally or cached by the engine.
	IsDownloaded bool `json:"is_downloaded" yaml:"-" toml:"-"`
	// Derived: resolved local directory when downloaded.
	LocalPath string `json:"local_path,omitempty" yaml:"-" toml:"-"`
}

// ModelSettings is the persisted user selection document.
type ModelSettings struct {
	// Selected model id; null when nothing has been chosen yet.
	SelectedModelID *string `json:"selectedModelId"`
	// Root directory model weights are stored under.
	ModelsPath string `json:"modelsPath,omitempty"`
	// Whether the first-run setup has been completed.
	SetupComplete bool `json:"setupComplete"`
}

// GpuStatus is a point-in-time accelerator snapshot reported by the engine.
type GpuStatus struct {
	Available     bool    `json:"available"`
	Name          string  `json:"name,omitempty"`
	TotalVRAMGB   float64 `json:"total_vram_gb"`
	FreeVRAMGB    float64 `json:"free_vram_gb"`
	CUDAVersion   string  `json:"cuda_version,omitempty"`
	DriverVersion string  `json:"driver_version,omitempty"`
}

// ModelStatus is the engine's view of a single model.
type ModelStatus struct {
	ModelID      string `json:"model_id"`
	IsDownloaded bool   `json:"is_downloaded"`
	IsLoaded     bool   `json:"is_loaded"`
	LocalPath    string `json:"local_path,omitempty"`
}

// CurrentModel reports which model, if any, the engine holds in accelerator memory.
type CurrentModel struct {
	ModelID *string `json:"model_id"`
	Loaded  bool    `json:"loaded"`
}

// LoraFile is one trained adapter owned by a user.
type LoraFile struct {
	Name      string  `json:"name"`
	FileName  string  `json:"fileName"`
	FilePath  string  `json:"filePath"`
	FileSize  int64   `json:"fileSize"`
	CreatedAt float64 `json:"createdAt"`
}

// ImageRecord is one generated image owned by a user.
type ImageRecord struct {
	FileName  string  `json:"fileName"`
	FilePath  string  `json:"filePath"`
	URL       string  `json:"url"`
	CreatedAt float64 `json:"createdAt"`
}
