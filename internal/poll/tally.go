package poll

// SelectWinner は最多得票の選択肢の位置を返す。
// 同数の場合は選択肢の並び順で先のものを勝者とする。選択肢がない場合は-1を返す。
func SelectWinner(counts []int) int {
	winner := -1
	for i, c := range counts {
		if winner < 0 || c > counts[winner] {
			winner = i
		}
	}
	return winner
}
