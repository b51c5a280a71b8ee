package pipeline

import (
	"context"
)

// maxFlightJoins は、全員が離脱して中断された実行に後から相乗りした場合にやり直す上限。
const maxFlightJoins = 3

// flight は同じURLの生成を待っている呼び出し元を数える。
// 共有の実行は呼び出し元のキャンセルを引き継がず、待っている全員が離脱した時だけキャンセルされる。
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// flightResult は共有実行の結果。aborted は実行中に共有コンテキストがキャンセルされたことを示す。
type flightResult struct {
	res     *GenerateResult
	err     error
	aborted bool
}

// joinFlight はurlの待機者として登録し、共有の実行に使うコンテキストを返す。
func (s *Service) joinFlight(ctx context.Context, url string) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f, ok := s.flights[url]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[url] = f
	}
	f.refs++
	return f
}

// leaveFlight は待機者の登録を外す。最後の1人が離脱したら共有の実行をキャンセルする。
func (s *Service) leaveFlight(url string, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if s.flights[url] == f {
		delete(s.flights, url)
	}
}

// awaitFlight は同じURLの生成を1回の実行にまとめ、呼び出し元ごとに自分のコンテキストで待つ。
// 先に待っていた全員が離脱して中断された実行に相乗りした場合は、自分のコンテキストが有効な限りやり直す。
func (s *Service) awaitFlight(ctx context.Context, url, addedBy string) (*GenerateResult, error) {
	for attempt := 1; ; attempt++ {
		f := s.joinFlight(ctx, url)
		ch := s.inflight.DoChan(url, func() (any, error) {
			res, err := s.generate(f.ctx, url, addedBy)
			return flightResult{res: res, err: err, aborted: f.ctx.Err() != nil}, nil
		})

		select {
		case <-ctx.Done():
			s.leaveFlight(url, f)
			return nil, ctx.Err()
		case r := <-ch:
			s.leaveFlight(url, f)
			if r.Err != nil {
				return nil, r.Err
			}
			out := r.Val.(flightResult)
			if out.err != nil && out.aborted && ctx.Err() == nil && attempt < maxFlightJoins {
				continue
			}
			return out.res, out.err
		}
	}
}
