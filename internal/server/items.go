package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"checkorder/internal/engine"
)

type ItemPath struct {
	ParentID string `path:"parent_id"`
	ItemID   string `path:"item_id"`
}

type itemOutput struct {
	Body ItemResponse `json:"body"`
}

type positionOutput struct {
	Body PositionResponse `json:"body"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/parents/{parent_id}/items",
		Summary:       "Create an item after the last one of the parent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ParentID string `path:"parent_id"`
		Body     CreateItemRequest
	}) (*itemOutput, error) {
		opts := engine.CreateItemOptions{
			ParentID:    input.ParentID,
			Text:        input.Body.Text,
			Checked:     input.Body.Checked,
			Archived:    input.Body.Archived,
			Indentation: input.Body.Indentation,
			Key:         keyPtr(input.Body.Key),
			Attrs:       input.Body.Attrs,
			ActorID:     actorFromContext(ctx),
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		it, err := e.CreateItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/parents/{parent_id}/items",
		Summary:     "List a window of the parent's items in order, with counters",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ParentID  string `path:"parent_id"`
		Offset    int    `query:"offset" minimum:"0"`
		Limit     int    `query:"limit" minimum:"0" doc:"0 returns every item"`
		Partition string `query:"partition" doc:"checked or archived; defaults to the parent's partition"`
		Flag      string `query:"flag" doc:"true or false: only items whose partition flag has this value"`
	}) (*struct {
		Body ItemPageResponse `json:"body"`
	}, error) {
		opts := engine.ListOptions{Offset: input.Offset, Limit: input.Limit, Partition: input.Partition}
		if input.Flag != "" {
			flag, err := strconv.ParseBool(input.Flag)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid flag", map[string]any{"flag": input.Flag})
			}
			opts.Flag = &flag
		}
		page, err := e.ListItems(ctx, input.ParentID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemPageResponse `json:"body"`
		}{Body: pageResponse(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/parents/{parent_id}/items/{item_id}",
		Summary:     "Get an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ItemPath) (*itemOutput, error) {
		it, err := e.GetItem(ctx, input.ParentID, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}",
		Summary:     "Update item text, checked state or attributes",
		Description: "Attributes are merged into the stored ones; nested objects are merged key by key.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body UpdateItemRequest
	}) (*itemOutput, error) {
		it, err := e.UpdateItem(ctx, engine.UpdateItemOptions{
			ParentID: input.ParentID,
			ID:       input.ItemID,
			Text:     input.Body.Text,
			Checked:  input.Body.Checked,
			Attrs:    input.Body.Attrs,
			ActorID:  actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-item",
		Method:        http.MethodDelete,
		Path:          "/parents/{parent_id}/items/{item_id}",
		Summary:       "Delete an item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ItemPath) (*struct{}, error) {
		if err := e.DeleteItem(ctx, input.ParentID, input.ItemID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item-state",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/state",
		Summary:     "Check or uncheck an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body UpdateStateRequest
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		checked := input.Body.Checked
		it, err := e.UpdateItem(ctx, engine.UpdateItemOptions{
			ParentID: input.ParentID,
			ID:       input.ItemID,
			Checked:  &checked,
			ActorID:  actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{Checked: it.Checked}}, nil
	})
}

func registerPositions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-item-position",
		Method:      http.MethodGet,
		Path:        "/parents/{parent_id}/items/{item_id}/position",
		Summary:     "Get an item's position",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ItemPath) (*positionOutput, error) {
		it, err := e.GetItem(ctx, input.ParentID, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item-position",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/position",
		Summary:     "Set an item's key, archived flag or indentation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body UpdatePositionRequest
	}) (*positionOutput, error) {
		if raw, ok := rawBodyMap(ctx)["key"]; ok && isNullRaw(raw) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "key must not be null", nil)
		}
		it, err := e.UpdatePosition(ctx, engine.UpdatePositionOptions{
			ParentID:    input.ParentID,
			ID:          input.ItemID,
			Key:         keyPtr(input.Body.Key),
			Archived:    input.Body.Archived,
			Indentation: input.Body.Indentation,
			ActorID:     actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})

	type relativePath struct {
		ParentID string `path:"parent_id"`
		ItemID   string `path:"item_id"`
		OtherID  string `path:"other_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "move-item-above",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/move/above/{other_id}",
		Summary:     "Move an item directly before another one",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *relativePath) (*positionOutput, error) {
		it, err := e.MoveAbove(ctx, input.ParentID, input.ItemID, input.OtherID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "move-item-below",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/move/below/{other_id}",
		Summary:     "Move an item directly after another one",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *relativePath) (*positionOutput, error) {
		it, err := e.MoveBelow(ctx, input.ParentID, input.ItemID, input.OtherID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "move-item-top",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/move/top",
		Summary:     "Move an item in front of the first one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ItemPath) (*positionOutput, error) {
		it, err := e.MoveToTop(ctx, input.ParentID, input.ItemID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "move-item-bottom",
		Method:      http.MethodPatch,
		Path:        "/parents/{parent_id}/items/{item_id}/move/bottom",
		Summary:     "Move an item behind the last one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ItemPath) (*positionOutput, error) {
		it, err := e.MoveToBottom(ctx, input.ParentID, input.ItemID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &positionOutput{Body: positionResponse(it)}, nil
	})
}

func registerParents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compact-parent",
		Method:      http.MethodPost,
		Path:        "/parents/{parent_id}/compact",
		Summary:     "Rewrite every key of the parent to 1, 5, 9, ... keeping the order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ParentID string `path:"parent_id"`
	}) (*struct {
		Body struct {
			Items []ItemResponse `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Compact(ctx, input.ParentID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []ItemResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = mapItems(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-parents",
		Method:      http.MethodGet,
		Path:        "/parents",
		Summary:     "List parent ids that own items",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []string `json:"items"`
		} `json:"body"`
	}, error) {
		ids, err := e.ListParents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []string `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = append([]string{}, ids...)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-parents",
		Method:      http.MethodGet,
		Path:        "/preview",
		Summary:     "List the first items of several parents at once",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ParentIDs      string `query:"parent_ids" required:"true" doc:"Comma separated parent ids"`
		LimitPerParent int    `query:"limit_per_parent" default:"5" minimum:"0"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		var ids []string
		for _, id := range strings.Split(input.ParentIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent_ids is required", nil)
		}
		pages, err := e.Preview(ctx, ids, input.LimitPerParent)
		if err != nil {
			return nil, handleError(err)
		}
		resp := PreviewResponse{Parents: make(map[string]ItemPageResponse, len(pages))}
		for id, p := range pages {
			resp.Parents[id] = pageResponse(p)
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: resp}, nil
	})
}
