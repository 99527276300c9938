package handler

import (
	"context"
	"net/http"

	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/detection"
	"github.com/projectkepler/kepler/pkg/models"
)

// Predictor runs a detection inline.
type Predictor interface {
	Predict(ctx context.Context, req detection.PredictRequest) (*detection.Prediction, error)
}

type predictRequest struct {
	ImageURL      string   `json:"imageUrl"`
	ImageData     string   `json:"imageData"`
	ModelType     string   `json:"modelType"`
	Confidence    *float64 `json:"confidence"`
	Overlap       *float64 `json:"overlap"`
	ModelVariant  string   `json:"modelVariant"`
	TargetObjects []string `json:"targetObjects"`
}

// NewPredictHandler returns an http.HandlerFunc for POST /api/v1/predict.
func NewPredictHandler(svc Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mw.PrincipalID(r)
		if owner == "" {
			writeError(w, r, models.ErrUnauthenticated)
			return
		}

		var req predictRequest
		if !decodeJSON(w, r, maxSubmitBody, &req) {
			return
		}

		var image []byte
		if req.ImageURL == "" && req.ImageData != "" {
			b, err := detection.DecodeDataURL(req.ImageData)
			if err != nil {
				writeError(w, r, err)
				return
			}
			image = b
		}

		out, err := svc.Predict(r.Context(), detection.PredictRequest{
			OwnerID:   owner,
			InputRef:  req.ImageURL,
			ImageData: image,
			ModelType: req.ModelType,
			Params: detection.ParamsInput{
				Confidence:    req.Confidence,
				Overlap:       req.Overlap,
				ModelVariant:  req.ModelVariant,
				TargetObjects: req.TargetObjects,
			},
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, out)
	}
}
