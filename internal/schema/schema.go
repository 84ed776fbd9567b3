// Package schema holds the static description of the match-statistics
// dataset: the table layout handed to the statement generator and the
// field glossary handed to the answer synthesizer. Both are fixed for the
// process lifetime.
package schema

// Description is the table layout embedded verbatim into generation prompts.
const Description = `数据库表结构：
1. players表 (存储选手单场数据):
   - id: INTEGER (主键)
   - date: DATETIME (比赛日期)
   - name: VARCHAR (选手名)
   - hero: VARCHAR (英雄名)
   - hero_lv: INTEGER (英雄等级)
   - kda: FLOAT (KDA值)
   - kills: INTEGER (击杀数)
   - deaths: INTEGER (死亡数)
   - assists: INTEGER (助攻数)
   - part: VARCHAR (参团率)
   - atk: INTEGER (攻击次数)
   - atk_p: INTEGER (输出占比)
   - atk_m: INTEGER (分均输出)
   - def_: INTEGER (承伤次数)
   - def_p: INTEGER (承伤占比)
   - def_m: INTEGER (分均承伤)
   - money: INTEGER (总经济)
   - money_m: INTEGER (分均经济)
   - wp_m: INTEGER (分均插眼)
   - hits: INTEGER (补刀数)
   - mvp: INTEGER (是否MVP，1/0)
   - team_name: VARCHAR (所属队伍名)
   - position: VARCHAR (选手位置，abcde分别对应上单打野中单射手辅助)
   - game_time: INTEGER (比赛时间，秒)
   - result: VARCHAR (比赛结果，胜/负)
   - match_id: INTEGER (比赛ID，关联matches表)

2. matches表 (存储比赛数据):
   - match_id: INTEGER (主键)
   - date: DATE (比赛日期)
   - blue_team_name: VARCHAR (蓝方队伍名)
   - red_team_name: VARCHAR (红方队伍名)
   - result: VARCHAR (比赛结果)
   - game_time: VARCHAR (比赛时长)

3. teams表 (存储队伍数据):
   - team_name: VARCHAR (主键)
   - result: VARCHAR (比赛结果)
   - kill: INTEGER (总击杀数)
   - death: INTEGER (总死亡数)
   - assist: INTEGER (总助攻数)

表关系:
- players.match_id 关联 matches.match_id
- players.team_name 关联 teams.team_name`

// Glossary maps internal field names to the human terms the synthesizer is
// required to use in answers.
var Glossary = map[string]string{
	"kda":       "KDA值",
	"kills":     "击杀数",
	"deaths":    "死亡数",
	"assists":   "助攻数",
	"part":      "参团率",
	"atk_p":     "输出占比",
	"atk_m":     "分均输出",
	"def_p":     "承伤占比",
	"def_m":     "分均承伤",
	"money":     "总经济",
	"money_m":   "分均经济",
	"wp_m":      "分均插眼",
	"hits":      "补刀数",
	"mvp":       "MVP次数",
	"hero":      "英雄",
	"hero_lv":   "英雄等级",
	"position":  "位置",
	"team_name": "队伍",
	"game_time": "比赛时长",
	"result":    "比赛结果",
	"match_id":  "比赛场次",
}

// DDL creates the three dataset tables when the service is pointed at an
// empty database, so offline mode runs end to end.
var DDL = []string{
	`CREATE TABLE IF NOT EXISTS players(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date DATETIME,
		name VARCHAR,
		hero VARCHAR,
		hero_lv INTEGER,
		kda FLOAT,
		kills INTEGER,
		deaths INTEGER,
		assists INTEGER,
		part VARCHAR,
		atk INTEGER,
		atk_p INTEGER,
		atk_m INTEGER,
		def_ INTEGER,
		def_p INTEGER,
		def_m INTEGER,
		money INTEGER,
		money_m INTEGER,
		wp_m INTEGER,
		hits INTEGER,
		mvp INTEGER,
		team_name VARCHAR,
		position VARCHAR,
		game_time INTEGER,
		result VARCHAR,
		match_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS matches(
		match_id INTEGER PRIMARY KEY,
		date DATE,
		blue_team_name VARCHAR,
		red_team_name VARCHAR,
		result VARCHAR,
		game_time VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS teams(
		team_name VARCHAR PRIMARY KEY,
		result VARCHAR,
		kill INTEGER,
		death INTEGER,
		assist INTEGER
	)`,
}
