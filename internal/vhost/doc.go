// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package vhost 把校验通过的配置文档编译为只读的虚拟主机路由表。

# 概述

Compile 为每个监听端口构造有序的 server 列表，按 Host 选择 server
（精确名、"*.suffix" 通配，未命中时使用该端口的第一个 server），
再按 nginx 规则匹配 location：精确匹配 "=" 优先，其次最长前缀；
最长前缀带 "^~" 时直接使用，否则按出现顺序尝试正则 "~"/"~*"，
都不命中时回落到最长前缀。

# 处理器

  - dynamic_config：由 Options.DynamicConfig 根据合并后的准入策略创建
  - return：状态码加文本，或重定向 URL
  - root：http.FileServer 提供静态文件

add_header、default_type、client_max_body_size、server_tokens、
access_log 按 http → server → location 继承后作用于处理器。

Table 编译后不可变，配合 LogFiles 复用跨代打开的日志文件。
*/
package vhost
