package server

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/bricks"
	"github.com/fyrsmithlabs/brickd/internal/grid"
)

// blockJSON is the wire form of a typed 2-D range. Numeric cells arrive
// as JSON numbers with nulls for empties; string cells as strings. A
// populated ref field names a stored handle directly, sidestepping the
// 1x1-cell-with-colon sniffing for callers that already hold a
// reference string.
type blockJSON struct {
	DType string  `json:"dtype"`
	Cells [][]any `json:"cells"`
	Ref   string  `json:"ref"`
}

// block converts the wire form into a typed block. A nil receiver means
// the argument was omitted.
func (b *blockJSON) block() (*grid.Block, error) {
	if b == nil {
		return nil, nil
	}
	if b.Ref != "" {
		return grid.Scalar(b.Ref), nil
	}
	dtype, err := grid.ParseDType(b.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bricks.ErrValidation, err)
	}
	cells := b.Cells
	if dtype == grid.Numeric {
		cells = numericCells(cells)
	}
	blk, err := grid.New(dtype, cells)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bricks.ErrValidation, err)
	}
	return blk, nil
}

// numericCells maps JSON nulls in a numeric block to NaN, the empty
// marker the crop logic expects for that dtype.
func numericCells(cells [][]any) [][]any {
	out := make([][]any, len(cells))
	for i, row := range cells {
		out[i] = make([]any, len(row))
		for j, cell := range row {
			if cell == nil {
				out[i][j] = math.NaN()
				continue
			}
			out[i][j] = cell
		}
	}
	return out
}

type resultResponse struct {
	Result any `json:"result"`
}

// respond converts an operation outcome into the caller contract: a 200
// response whose result is either the produced value or the
// marker-prefixed error string. Raw faults never reach the caller.
func (s *Server) respond(c echo.Context, result any, err error) error {
	if err != nil {
		s.logger.Warn("operation failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(http.StatusOK, resultResponse{Result: bricks.ErrorString(err)})
	}
	return c.JSON(http.StatusOK, resultResponse{Result: result})
}

// options derives per-call options from the request: persist defaults to
// true, and the caller location header supplies the natural identity.
func (s *Server) options(c echo.Context, persist *bool) bricks.Options {
	opt := bricks.Options{
		Persist:  true,
		Location: c.Request().Header.Get(CallerHeader),
	}
	if persist != nil {
		opt.Persist = *persist
	}
	return opt
}

func bindError(err error) error {
	return fmt.Errorf("%w: malformed request: %v", bricks.ErrValidation, err)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "brickd",
	})
}

func (s *Server) handleExport(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Export(c.Request().Context()))
}

func (s *Server) handleHandles(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"handles": s.service.References(c.Request().Context()),
	})
}

func (s *Server) handleBrick(c echo.Context) error {
	var req struct {
		Key     string     `json:"key"`
		Data    *blockJSON `json:"data"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	data, err := req.Data.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Brick(c.Request().Context(), req.Key, data, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleBricks(c echo.Context) error {
	var req struct {
		Pairs []struct {
			Key   string     `json:"key"`
			Brick *blockJSON `json:"brick"`
		} `json:"pairs"`
		Persist *bool `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	pairs := make([]bricks.Pair, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		blk, err := p.Brick.block()
		if err != nil {
			return s.respond(c, nil, err)
		}
		pairs = append(pairs, bricks.Pair{Key: p.Key, Block: blk})
	}
	ref, err := s.service.Bricks(c.Request().Context(), pairs, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleArray(c echo.Context) error {
	var req struct {
		Data    *blockJSON `json:"data"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	data, err := req.Data.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Array(c.Request().Context(), data, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleList(c echo.Context) error {
	var req struct {
		Data    *blockJSON `json:"data"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	data, err := req.Data.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.List(c.Request().Context(), data, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleTable(c echo.Context) error {
	var req struct {
		Data    *blockJSON `json:"data"`
		Columns *blockJSON `json:"columns"`
		Index   *blockJSON `json:"index"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	data, err := req.Data.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	columns, err := req.Columns.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	index, err := req.Index.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Table(c.Request().Context(), data, columns, index, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleGrid(c echo.Context) error {
	var req struct {
		Data    *blockJSON `json:"data"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	data, err := req.Data.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Grid(c.Request().Context(), data, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleLookup(c echo.Context) error {
	var req struct {
		Bricks  *blockJSON `json:"bricks"`
		Keys    string     `json:"keys"`
		Persist *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Bricks.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Lookup(c.Request().Context(), blk, req.Keys, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleFlatten(c echo.Context) error {
	var req struct {
		Brick *blockJSON `json:"brick"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Brick.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	cells, err := s.service.Flatten(c.Request().Context(), blk)
	return s.respond(c, cells, err)
}

func (s *Server) handleAlias(c echo.Context) error {
	var req struct {
		Brick *blockJSON `json:"brick"`
		Alias string     `json:"alias"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Brick.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Alias(c.Request().Context(), blk, req.Alias)
	return s.respond(c, ref, err)
}

func (s *Server) handleMerge(c echo.Context) error {
	var req struct {
		Bricks  []*blockJSON `json:"bricks"`
		Persist *bool        `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blocks := make([]*grid.Block, 0, len(req.Bricks))
	for _, b := range req.Bricks {
		blk, err := b.block()
		if err != nil {
			return s.respond(c, nil, err)
		}
		blocks = append(blocks, blk)
	}
	ref, err := s.service.Merge(c.Request().Context(), blocks, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleReplace(c echo.Context) error {
	var req struct {
		Bricks *blockJSON `json:"bricks"`
		Pairs  []struct {
			Keys  string     `json:"keys"`
			Brick *blockJSON `json:"brick"`
		} `json:"pairs"`
		Persist *bool `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Bricks.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	pairs := make([]bricks.PathPair, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		pb, err := p.Brick.block()
		if err != nil {
			return s.respond(c, nil, err)
		}
		pairs = append(pairs, bricks.PathPair{Path: p.Keys, Block: pb})
	}
	// Replaced copies default to ephemeral; the source handle stays.
	opt := bricks.Options{Location: c.Request().Header.Get(CallerHeader)}
	if req.Persist != nil {
		opt.Persist = *req.Persist
	}
	ref, err := s.service.Replace(c.Request().Context(), blk, pairs, opt)
	return s.respond(c, ref, err)
}

func (s *Server) handleDefineFunctions(c echo.Context) error {
	var req struct {
		Functions *blockJSON `json:"functions"`
		Persist   *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Functions.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.DefineFunctions(c.Request().Context(), blk, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleInstantiate(c echo.Context) error {
	var req struct {
		ContextName string     `json:"context_name"`
		ContextPath string     `json:"context_path"`
		Args        *blockJSON `json:"args"`
		Persist     *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	args, err := req.Args.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Instantiate(c.Request().Context(), req.ContextName, req.ContextPath, args, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleInvoke(c echo.Context) error {
	var req struct {
		FunctionBrick *blockJSON `json:"function_brick"`
		FunctionName  string     `json:"function_name"`
		Args          *blockJSON `json:"args"`
		Persist       *bool      `json:"persist"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	target, err := req.FunctionBrick.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	args, err := req.Args.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ref, err := s.service.Invoke(c.Request().Context(), target, req.FunctionName, args, s.options(c, req.Persist))
	return s.respond(c, ref, err)
}

func (s *Server) handleDelete(c echo.Context) error {
	var req struct {
		Brick *blockJSON `json:"brick"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respond(c, nil, bindError(err))
	}
	blk, err := req.Brick.block()
	if err != nil {
		return s.respond(c, nil, err)
	}
	ack, err := s.service.Delete(c.Request().Context(), blk)
	return s.respond(c, ack, err)
}

func (s *Server) handleClear(c echo.Context) error {
	s.service.Clear(c.Request().Context())
	return s.respond(c, "CLEARED", nil)
}

func (s *Server) handleToday(c echo.Context) error {
	return s.respond(c, s.service.Today().Format(time.DateOnly), nil)
}
