package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"portionchef/internal/batch"
	"portionchef/internal/portion"
	"portionchef/internal/recipe"
)

// DefaultTimeout bounds every request's calls to the store and the LLM backends.
const DefaultTimeout = 45 * time.Second

// Strategies accepted by the optimize endpoint.
const (
	StrategyHeuristic = "heuristic"
	StrategyGemini    = "gemini"
	StrategyLocal     = "local"
)

// Optimizer defines the portioning operations the handlers call.
type Optimizer interface {
	Optimize(req portion.Request) (*portion.Result, error)
	Evaluate(req portion.Request, proposal *portion.Proposal) (*portion.Result, error)
}

// Proposer asks an LLM backend for portion sizes.
type Proposer interface {
	ProposePortions(ctx context.Context, req portion.Request) (*portion.Proposal, error)
}

// BatchRunner portions stored orders.
type BatchRunner interface {
	Run(ctx context.Context) (*batch.Report, error)
	ProcessOrder(ctx context.Context, orderID string) (*recipe.Serving, error)
}

// RecipeStore defines the record operations the handlers need.
type RecipeStore interface {
	GetDish(ctx context.Context, dishID string) (*recipe.Recipe, error)
	SetDishImagePath(ctx context.Context, dishID, imagePath string) error
	GetServing(ctx context.Context, orderID string) (*recipe.Serving, error)
}

// Handler handles HTTP requests.
type Handler struct {
	Optimizer      Optimizer
	GeminiClient   Proposer
	LocalLLMClient Proposer
	Batch          BatchRunner
	RecipeStore    RecipeStore
	Logger         *zap.Logger
	ImagesDir      string
	Timeout        time.Duration
}

// NewHandler creates a new Handler. GeminiClient may be nil when no API key is configured.
func NewHandler(optimizer Optimizer, geminiClient, localLLMClient Proposer, runner BatchRunner, recipeStore RecipeStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Optimizer:      optimizer,
		GeminiClient:   geminiClient,
		LocalLLMClient: localLLMClient,
		Batch:          runner,
		RecipeStore:    recipeStore,
		Logger:         logger,
		ImagesDir:      "images",
		Timeout:        DefaultTimeout,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/optimize", h.Optimize)
	r.POST("/orders/:order_id/optimize", h.OptimizeOrder)
	r.POST("/batch/run", h.RunBatch)
	r.GET("/servings/:order_id", h.GetServing)
	r.POST("/dishes/:dish_id/image", h.UploadDishImage)
}

// optimizeRequest is the body of POST /optimize.
type optimizeRequest struct {
	Dish                recipe.Recipe                        `json:"dish"`
	Requirements        map[string]any                       `json:"requirements"`
	NutrientConstraints map[string]recipe.NutrientConstraint `json:"nutrient_constraints"`
	Profile             recipe.ConstraintProfile             `json:"profile"`
}

func decodeOptimizeRequest(body io.Reader) (portion.Request, error) {
	in := optimizeRequest{Profile: recipe.DefaultConstraintProfile()}
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return portion.Request{}, err
	}
	recipe.TagSpecialCases(&in.Dish)
	return portion.Request{
		Recipe:       in.Dish,
		Requirements: in.Requirements,
		Constraints:  in.NutrientConstraints,
		Profile:      in.Profile,
	}, nil
}

// Optimize portions a dish posted in the request body.
func (h *Handler) Optimize(c *gin.Context) {
	strategy := strings.ToLower(c.DefaultQuery("strategy", StrategyHeuristic))

	req, err := decodeOptimizeRequest(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err.Error()))
		return
	}

	var proposer Proposer
	switch strategy {
	case StrategyHeuristic:
	case StrategyGemini:
		proposer = h.GeminiClient
	case StrategyLocal:
		proposer = h.LocalLLMClient
	default:
		c.String(http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", strategy))
		return
	}

	if strategy == StrategyHeuristic {
		res, err := h.Optimizer.Optimize(req)
		if err != nil {
			h.portionError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	if proposer == nil {
		c.String(http.StatusServiceUnavailable, fmt.Sprintf("%s backend is not configured", strategy))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	proposal, err := proposer.ProposePortions(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.String(http.StatusRequestTimeout, fmt.Sprintf("%s call timed out after %s", strategy, h.Timeout))
			return
		}
		h.Logger.Error("llm proposal failed", zap.String("strategy", strategy), zap.Error(err))
		c.String(http.StatusBadGateway, fmt.Sprintf("%s err: %s", strategy, err.Error()))
		return
	}

	res, err := h.Optimizer.Evaluate(req, proposal)
	if err != nil {
		h.portionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) portionError(c *gin.Context, err error) {
	if errors.Is(err, portion.ErrEmptyRecipe) || errors.Is(err, portion.ErrNegativeRequirement) {
		c.String(http.StatusUnprocessableEntity, err.Error())
		return
	}
	if errors.Is(err, portion.ErrNoProposal) {
		c.String(http.StatusBadGateway, err.Error())
		return
	}
	h.Logger.Error("optimize failed", zap.Error(err))
	c.String(http.StatusInternalServerError, fmt.Sprintf("optimize err: %s", err.Error()))
}

// OptimizeOrder portions one stored order and persists its serving.
func (h *Handler) OptimizeOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	serving, err := h.Batch.ProcessOrder(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.String(http.StatusRequestTimeout, fmt.Sprintf("order %s timed out after %s", orderID, h.Timeout))
		case errors.Is(err, batch.ErrPortioning), errors.Is(err, batch.ErrOrderData):
			c.String(http.StatusUnprocessableEntity, err.Error())
		default:
			h.Logger.Error("order failed", zap.String("order_id", orderID), zap.Error(err))
			c.String(http.StatusInternalServerError, fmt.Sprintf("database error: %s", err.Error()))
		}
		return
	}

	if serving == nil {
		c.String(http.StatusNotFound, "Order not found")
		return
	}

	c.JSON(http.StatusOK, serving)
}

// RunBatch portions every open order. The run is not bound to the request timeout.
func (h *Handler) RunBatch(c *gin.Context) {
	report, err := h.Batch.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, batch.ErrOrderData) {
			c.JSON(http.StatusUnprocessableEntity, report)
			return
		}
		h.Logger.Error("batch run failed", zap.Error(err))
		c.String(http.StatusInternalServerError, fmt.Sprintf("batch err: %s", err.Error()))
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetServing returns the serving persisted for an order.
func (h *Handler) GetServing(c *gin.Context) {
	orderID := c.Param("order_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	serving, err := h.RecipeStore.GetServing(ctx, orderID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.String(http.StatusRequestTimeout, "Database query timed out after 5 seconds")
			return
		}
		c.String(http.StatusInternalServerError, fmt.Sprintf("database error: %s", err.Error()))
		return
	}

	if serving == nil {
		c.String(http.StatusNotFound, "Serving not found")
		return
	}

	c.JSON(http.StatusOK, serving)
}

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// UploadDishImage stores a resized dish photo and records its path on the dish.
func (h *Handler) UploadDishImage(c *gin.Context) {
	dishID := c.Param("dish_id")

	file, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("get form err: %s", err.Error()))
		return
	}

	extension := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[extension] {
		c.String(http.StatusBadRequest, "Invalid file type. Only JPEG, JPG, and PNG images are allowed.")
		return
	}

	src, err := file.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("open file err: %s", err.Error()))
		return
	}
	defer src.Close()

	imageData, err := io.ReadAll(src)
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("read image err: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	dish, err := h.RecipeStore.GetDish(ctx, dishID)
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("database error: %s", err.Error()))
		return
	}
	if dish == nil {
		c.String(http.StatusNotFound, "Dish not found")
		return
	}

	imagePath, err := saveImage(h.ImagesDir, imageData, imageHash(imageData), extension)
	if err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("failed to save image: %s", err.Error()))
		return
	}

	if err := h.RecipeStore.SetDishImagePath(ctx, dishID, imagePath); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.String(http.StatusRequestTimeout, "Database save timed out")
			return
		}
		c.String(http.StatusInternalServerError, fmt.Sprintf("database error: %s", err.Error()))
		return
	}

	h.Logger.Info("dish image stored", zap.String("dish_id", dishID), zap.String("path", imagePath))
	c.JSON(http.StatusOK, gin.H{"dish_id": dishID, "image_path": imagePath})
}

// imageHash names stored images by content so re-uploads overwrite the same file.
func imageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func saveImage(dir string, imageData []byte, imageHash string, originalExtension string) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	img = resize.Resize(800, 0, img, resize.Lanczos3)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create images directory: %w", err)
	}

	imagePath := filepath.Join(dir, imageHash+originalExtension)
	out, err := os.Create(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	switch originalExtension {
	case ".jpeg", ".jpg":
		err = jpeg.Encode(out, img, nil)
	case ".png":
		err = png.Encode(out, img)
	default:
		return "", fmt.Errorf("unsupported image format: %s", originalExtension)
	}

	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	return imagePath, nil
}
